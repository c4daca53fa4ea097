package bot

import (
	"context"
	"fmt"

	"mailroom/internal/eventlog"

	"github.com/bwmarrin/discordgo"
)

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	defer b.recoverHandler("guild_member_add")

	if event.Member == nil || event.User == nil {
		return
	}
	b.events.Emit(context.Background(), event.GuildID, eventlog.CategoryMembers, eventlog.Event{
		Title:       "Member Joined",
		Description: fmt.Sprintf("<@%s> joined the server.", event.User.ID),
		AuthorID:    event.User.ID,
		AuthorRoles: event.Roles,
	})
}

func (b *Bot) onGuildMemberRemove(session *discordgo.Session, event *discordgo.GuildMemberRemove) {
	defer b.recoverHandler("guild_member_remove")

	if event.Member == nil || event.User == nil {
		return
	}
	b.events.Emit(context.Background(), event.GuildID, eventlog.CategoryMembers, eventlog.Event{
		Title:       "Member Left",
		Description: fmt.Sprintf("**%s** (`%s`) left the server.", event.User.Username, event.User.ID),
		AuthorID:    event.User.ID,
	})
}

func (b *Bot) onMessageUpdate(session *discordgo.Session, event *discordgo.MessageUpdate) {
	defer b.recoverHandler("message_update")

	if event.GuildID == "" || event.Author == nil || event.Author.Bot {
		return
	}
	var roles []string
	if event.Member != nil {
		roles = event.Member.Roles
	}
	b.events.Emit(context.Background(), event.GuildID, eventlog.CategoryMessages, eventlog.Event{
		Title:       "Message Edited",
		Description: fmt.Sprintf("<@%s> edited a message in <#%s>:\n%s", event.Author.ID, event.ChannelID, event.Content),
		AuthorID:    event.Author.ID,
		AuthorRoles: roles,
		ChannelID:   event.ChannelID,
	})
}

func (b *Bot) onMessageDelete(session *discordgo.Session, event *discordgo.MessageDelete) {
	defer b.recoverHandler("message_delete")

	if event.GuildID == "" {
		return
	}
	b.events.Emit(context.Background(), event.GuildID, eventlog.CategoryMessages, eventlog.Event{
		Title:       "Message Deleted",
		Description: fmt.Sprintf("Message `%s` was deleted in <#%s>.", event.ID, event.ChannelID),
		ChannelID:   event.ChannelID,
	})
}

func (b *Bot) onChannelCreate(session *discordgo.Session, event *discordgo.ChannelCreate) {
	defer b.recoverHandler("channel_create")

	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	b.events.Emit(context.Background(), event.Channel.GuildID, eventlog.CategoryChannels, eventlog.Event{
		Title:       "Channel Created",
		Description: fmt.Sprintf("<#%s> was created.", event.Channel.ID),
		ChannelID:   event.Channel.ID,
	})
}

func (b *Bot) onRoleCreate(session *discordgo.Session, event *discordgo.GuildRoleCreate) {
	defer b.recoverHandler("role_create")

	if event.GuildID == "" || event.Role == nil {
		return
	}
	b.events.Emit(context.Background(), event.GuildID, eventlog.CategoryRoles, eventlog.Event{
		Title:       "Role Created",
		Description: fmt.Sprintf("Role **%s** (`%s`) was created.", event.Role.Name, event.Role.ID),
	})
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	defer b.recoverHandler("role_delete")

	if event.GuildID == "" {
		return
	}
	b.events.Emit(context.Background(), event.GuildID, eventlog.CategoryRoles, eventlog.Event{
		Title:       "Role Deleted",
		Description: fmt.Sprintf("Role `%s` was deleted.", event.RoleID),
	})
}
