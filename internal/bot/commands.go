package bot

import (
	"context"
	"errors"
	"fmt"

	"mailroom/internal/eventlog"
	"mailroom/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var manageGuild = int64(discordgo.PermissionManageGuild)

func commandDefinitions() []*discordgo.ApplicationCommand {
	categoryChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "members", Value: eventlog.CategoryMembers},
		{Name: "messages", Value: eventlog.CategoryMessages},
		{Name: "channels", Value: eventlog.CategoryChannels},
		{Name: "roles", Value: eventlog.CategoryRoles},
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "modmail",
			Description:              "Modmail setup and administration",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable modmail for this server",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable modmail for this server",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show modmail configuration and open threads",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "category",
					Description: "Set the category for modmail channels",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Category channel",
							Required:    true,
							ChannelTypes: []discordgo.ChannelType{
								discordgo.ChannelTypeGuildCategory,
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "logchannel",
					Description: "Set the modmail log channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Log channel",
							Required:    true,
							ChannelTypes: []discordgo.ChannelType{
								discordgo.ChannelTypeGuildText,
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "close",
					Description: "Close the thread behind this channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "reason",
							Description: "Close reason",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "reset",
					Description: "Reset all guild settings (every guild)",
				},
			},
		},
		{
			Name:                     "logs",
			Description:              "Guild event logging configuration",
			DefaultMemberPermissions: &manageGuild,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Enable a log category",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "category",
							Description: "Log category",
							Required:    true,
							Choices:     categoryChoices,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Disable a log category",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "category",
							Description: "Log category",
							Required:    true,
							Choices:     categoryChoices,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Route a log category to a channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "category",
							Description: "Log category",
							Required:    true,
							Choices:     categoryChoices,
						},
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Destination channel",
							Required:    true,
							ChannelTypes: []discordgo.ChannelType{
								discordgo.ChannelTypeGuildText,
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "ignorechannel",
					Description: "Toggle a channel on the ignore list",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionChannel,
							Name:        "channel",
							Description: "Channel to toggle",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "ignorerole",
					Description: "Toggle a role on the ignore list",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionRole,
							Name:        "role",
							Description: "Role to toggle",
							Required:    true,
						},
					},
				},
			},
		},
	}
}

// registerCommands overwrites the command set, scoped to the support guild
// when one is configured (instant propagation for testing), global
// otherwise.
func (b *Bot) registerCommands() error {
	appID := b.cfg.AppID
	if appID == "" && b.session.State.User != nil {
		appID = b.session.State.User.ID
	}
	_, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.SupportGuildID, commandDefinitions())
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()

	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "This command only works inside a server.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	switch data.Name {
	case "modmail":
		b.handleModmailCommand(ctx, session, interaction, data.Options)
	case "logs":
		b.handleLogsCommand(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleModmailCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		return
	}
	sub := options[0]

	switch sub.Name {
	case "enable", "disable":
		enabled := sub.Name == "enable"
		if err := b.store.SetModmailEnabled(ctx, interaction.GuildID, enabled); err != nil {
			b.logger.Error("modmail toggle failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "Saving the setting failed.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "Modmail is now **"+state+"** for this server.", b.cfg.EmbedColors.Staff, nil), true)
	case "status":
		settings, err := b.store.EnsureGuildSettings(ctx, interaction.GuildID)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "Loading settings failed.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		open, err := b.store.CountOpenThreads(ctx, interaction.GuildID)
		if err != nil {
			b.logger.Warn("open thread count failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "Enabled", Value: fmt.Sprintf("%t", settings.ModmailOn()), Inline: true},
			{Name: "Category", Value: channelMention(settings.Settings.Modmail.CategoryID), Inline: true},
			{Name: "Log Channel", Value: channelMention(settings.Settings.Modmail.LogChannelID), Inline: true},
			{Name: "Open Threads", Value: fmt.Sprintf("%d", open), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Modmail Status", "Current configuration for this server.", b.cfg.EmbedColors.Inbound, fields), true)
	case "category", "logchannel":
		if len(sub.Options) == 0 {
			return
		}
		channel := sub.Options[0].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "Channel not found.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		settings, err := b.store.EnsureGuildSettings(ctx, interaction.GuildID)
		if err == nil {
			if sub.Name == "category" {
				settings.Settings.Modmail.CategoryID = channel.ID
			} else {
				settings.Settings.Modmail.LogChannelID = channel.ID
			}
			err = b.store.UpsertGuildSettings(ctx, settings)
		}
		if err != nil {
			b.logger.Error("modmail setup failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "Saving the setting failed.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "Setting saved: <#"+channel.ID+">", b.cfg.EmbedColors.Staff, nil), true)
	case "close":
		b.handleCloseCommand(ctx, session, interaction, sub.Options)
	case "reset":
		count, err := b.store.ResetGuildSettings(ctx)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Modmail", "Reset failed.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Modmail", fmt.Sprintf("Cleared %d guild settings records.", count), b.cfg.EmbedColors.Notice, nil), true)
	}
}

func (b *Bot) handleCloseCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	actor := interactionUser(interaction)
	if actor == nil {
		return
	}

	thread, err := b.routeInteractionChannel(ctx, interaction)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.respondEmbed(session, interaction, b.commandEmbed("Close", "This channel is not a modmail thread.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		b.logger.Error("close routing failed", zap.String("channel_id", interaction.ChannelID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Close", "Closing the thread failed.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	reason := "closed by staff"
	if len(options) > 0 && options[0].Name == "reason" {
		if value := options[0].StringValue(); value != "" {
			reason = value
		}
	}

	closed, err := b.manager.Close(ctx, &thread, actor.ID, reason)
	if err != nil {
		b.logger.Error("close failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Close", "Closing the thread failed.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	if !closed {
		b.respondEmbed(session, interaction, b.commandEmbed("Close", "This thread is already closed.", b.cfg.EmbedColors.Notice, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Close", "Thread closed.", b.cfg.EmbedColors.Staff, nil), true)
}

func (b *Bot) handleLogsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		return
	}
	sub := options[0]

	settings, err := b.store.EnsureGuildSettings(ctx, interaction.GuildID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Logs", "Loading settings failed.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	var reply string
	switch sub.Name {
	case "enable":
		category := sub.Options[0].StringValue()
		settings.EnabledCategories = addString(settings.EnabledCategories, category)
		reply = "Log category **" + category + "** enabled."
	case "disable":
		category := sub.Options[0].StringValue()
		settings.EnabledCategories = removeString(settings.EnabledCategories, category)
		reply = "Log category **" + category + "** disabled."
	case "channel":
		category := sub.Options[0].StringValue()
		channel := sub.Options[1].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Logs", "Channel not found.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		if settings.CategoryChannels == nil {
			settings.CategoryChannels = map[string]string{}
		}
		settings.CategoryChannels[category] = channel.ID
		reply = "Category **" + category + "** now logs to <#" + channel.ID + ">."
	case "ignorechannel":
		channel := sub.Options[0].ChannelValue(session)
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Logs", "Channel not found.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		var toggledOn bool
		settings.IgnoredChannels, toggledOn = toggleString(settings.IgnoredChannels, channel.ID)
		reply = "Channel <#" + channel.ID + "> removed from the ignore list."
		if toggledOn {
			reply = "Channel <#" + channel.ID + "> added to the ignore list."
		}
	case "ignorerole":
		role := sub.Options[0].RoleValue(session, interaction.GuildID)
		if role == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Logs", "Role not found.", b.cfg.EmbedColors.Error, nil), true)
			return
		}
		var toggledOn bool
		settings.IgnoredRoles, toggledOn = toggleString(settings.IgnoredRoles, role.ID)
		reply = "Role <@&" + role.ID + "> removed from the ignore list."
		if toggledOn {
			reply = "Role <@&" + role.ID + "> added to the ignore list."
		}
	default:
		return
	}

	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		b.logger.Error("logs setup failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Logs", "Saving the setting failed.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Logs", reply, b.cfg.EmbedColors.Staff, nil), true)
}

func channelMention(channelID string) string {
	if channelID == "" {
		return "not set"
	}
	return "<#" + channelID + ">"
}

func addString(values []string, value string) []string {
	for _, v := range values {
		if v == value {
			return values
		}
	}
	return append(values, value)
}

func removeString(values []string, value string) []string {
	out := values[:0]
	for _, v := range values {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func toggleString(values []string, value string) ([]string, bool) {
	for _, v := range values {
		if v == value {
			return removeString(values, value), false
		}
	}
	return append(values, value), true
}
