package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailroom/internal/storage"
	"mailroom/internal/threads"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("interaction panic", zap.Any("panic", r), zap.Stack("stack"))
			b.respondEmbed(session, interaction, b.commandEmbed("Error", "Something went wrong handling that action.", b.cfg.EmbedColors.Error, nil), true)
		}
	}()

	ctx := context.Background()
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, session, interaction)
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, session, interaction)
	case discordgo.InteractionModalSubmit:
		b.handleModal(ctx, session, interaction)
	}
}

func (b *Bot) handleComponent(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.MessageComponentData()
	switch {
	case data.CustomID == "mailroom:pick":
		b.handlePickSelection(ctx, session, interaction, data)
	case strings.HasPrefix(data.CustomID, "mailroom:reply:"):
		b.openReplyModal(session, interaction, strings.TrimPrefix(data.CustomID, "mailroom:reply:"))
	case strings.HasPrefix(data.CustomID, "mailroom:close:"):
		b.handleCloseButton(ctx, session, interaction, strings.TrimPrefix(data.CustomID, "mailroom:close:"))
	}
}

// handlePickSelection resolves a destination the user picked from the
// disambiguation menu and delivers their stashed message there.
func (b *Bot) handlePickSelection(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.MessageComponentInteractionData) {
	user := interactionUser(interaction)
	if user == nil || len(data.Values) == 0 {
		return
	}

	pending, ok := b.pending.Get(user.ID, time.Now())
	if !ok {
		b.updatePickMessage(session, interaction, "That selection expired. Please send your message again.")
		return
	}
	relay := threads.Message{
		AuthorID:    user.ID,
		AuthorTag:   pending.AuthorTag,
		Content:     pending.Content,
		Attachments: pending.Attachments,
	}

	value := data.Values[0]
	switch {
	case strings.HasPrefix(value, "thread:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(value, "thread:"), 10, 64)
		if err != nil {
			b.updatePickMessage(session, interaction, "That selection is no longer valid. Please send your message again.")
			return
		}
		thread, err := b.store.ThreadByID(ctx, id)
		if err != nil || !thread.Open {
			b.updatePickMessage(session, interaction, "That conversation has been closed. Please send your message again.")
			return
		}
		if err := b.manager.Forward(ctx, &thread, relay, threads.ToStaff); err != nil {
			b.logger.Error("pick forward failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
			b.updatePickMessage(session, interaction, "Your message could not be delivered. Please try again later.")
			return
		}
		b.pending.Delete(user.ID)
		b.updatePickMessage(session, interaction, fmt.Sprintf("Delivered to the **%s** staff team.", b.guildName(thread.GuildID)))
	case strings.HasPrefix(value, "guild:"):
		guildID := strings.TrimPrefix(value, "guild:")
		if _, err := b.manager.Create(ctx, guildID, relay); err != nil {
			b.logger.Error("pick create failed", zap.String("guild_id", guildID), zap.Error(err))
			b.updatePickMessage(session, interaction, "Your message could not be delivered. Please try again later.")
			return
		}
		b.pending.Delete(user.ID)
		b.updatePickMessage(session, interaction, fmt.Sprintf("Started a new conversation with **%s**.", b.guildName(guildID)))
	case value == "new":
		b.startNewConversation(ctx, session, interaction, user.ID, relay)
	}
}

// startNewConversation handles the "New Conversation" menu option: with one
// eligible guild the thread opens immediately, with several the user picks
// again from a guild list.
func (b *Bot) startNewConversation(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, userID string, relay threads.Message) {
	var eligible []string
	for _, guildID := range b.sharedGuildIDs(userID) {
		settings, err := b.store.EnsureGuildSettings(ctx, guildID)
		if err != nil {
			b.logger.Warn("guild settings lookup failed", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		if settings.ModmailOn() && !b.hasOpenThread(ctx, userID, guildID) {
			eligible = append(eligible, guildID)
		}
	}

	switch len(eligible) {
	case 0:
		b.updatePickMessage(session, interaction, "No other server is available for a new conversation.")
	case 1:
		if _, err := b.manager.Create(ctx, eligible[0], relay); err != nil {
			b.logger.Error("new conversation failed", zap.String("guild_id", eligible[0]), zap.Error(err))
			b.updatePickMessage(session, interaction, "Your message could not be delivered. Please try again later.")
			return
		}
		b.pending.Delete(userID)
		b.updatePickMessage(session, interaction, fmt.Sprintf("Started a new conversation with **%s**.", b.guildName(eligible[0])))
	default:
		options := make([]discordgo.SelectMenuOption, 0, len(eligible))
		for _, guildID := range eligible {
			options = append(options, discordgo.SelectMenuOption{
				Label: b.guildName(guildID),
				Value: "guild:" + guildID,
			})
		}
		_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{b.commandEmbed("Choose a Server", "Pick a server for the new conversation:", b.cfg.EmbedColors.Notice, nil)},
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.SelectMenu{
								CustomID:    "mailroom:pick",
								Placeholder: "Select a server",
								Options:     options,
							},
						},
					},
				},
			},
		})
	}
}

func (b *Bot) hasOpenThread(ctx context.Context, userID, guildID string) bool {
	_, err := b.store.OpenThread(ctx, userID, guildID)
	return err == nil
}

func (b *Bot) openReplyModal(session *discordgo.Session, interaction *discordgo.InteractionCreate, threadID string) {
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: "mailroom:replymodal:" + threadID,
			Title:    "Reply to User",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:  "content",
							Label:     "Message",
							Style:     discordgo.TextInputParagraph,
							Required:  true,
							MaxLength: 2000,
						},
					},
				},
			},
		},
	})
}

func (b *Bot) handleCloseButton(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, rawID string) {
	actor := interactionUser(interaction)
	if actor == nil {
		return
	}
	thread, ok := b.threadFromRawID(ctx, rawID)
	if !ok {
		b.respondEmbed(session, interaction, b.commandEmbed("Close", "Could not find this thread.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	closed, err := b.manager.Close(ctx, &thread, actor.ID, "closed by staff")
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

func (b *Bot) handleModal(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ModalSubmitData()
	if !strings.HasPrefix(data.CustomID, "mailroom:replymodal:") {
		return
	}
	actor := interactionUser(interaction)
	if actor == nil {
		return
	}

	thread, ok := b.threadFromRawID(ctx, strings.TrimPrefix(data.CustomID, "mailroom:replymodal:"))
	if !ok {
		b.respondEmbed(session, interaction, b.commandEmbed("Reply", "Could not find this thread.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	if !thread.Open {
		b.respondEmbed(session, interaction, b.commandEmbed("Reply", "This thread is already closed.", b.cfg.EmbedColors.Notice, nil), true)
		return
	}

	content := modalInputValue(data, "content")
	if content == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Reply", "Nothing to send.", b.cfg.EmbedColors.Error, nil), true)
		return
	}

	relay := threads.Message{AuthorID: actor.ID, AuthorTag: actor.Username, Content: content}
	if err := b.manager.Forward(ctx, &thread, relay, threads.ToUser); err != nil {
		b.logger.Error("modal reply failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Reply", "The user could not be reached by DM.", b.cfg.EmbedColors.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Reply", "Reply sent to the user.", b.cfg.EmbedColors.Staff, nil), true)
}

func (b *Bot) threadFromRawID(ctx context.Context, rawID string) (storage.ModmailThread, bool) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return storage.ModmailThread{}, false
	}
	thread, err := b.store.ThreadByID(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Error("thread lookup failed", zap.Int64("thread_id", id), zap.Error(err))
		}
		return storage.ModmailThread{}, false
	}
	return thread, true
}

func (b *Bot) updatePickMessage(session *discordgo.Session, interaction *discordgo.InteractionCreate, text string) {
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{b.commandEmbed("Modmail", text, b.cfg.EmbedColors.Notice, nil)},
			Components: []discordgo.MessageComponent{},
		},
	})
}

func modalInputValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			input, ok := component.(*discordgo.TextInput)
			if !ok {
				continue
			}
			if input.CustomID == customID {
				return strings.TrimSpace(input.Value)
			}
		}
	}
	return ""
}

// routeInteractionChannel finds the thread backing the channel an
// interaction came from; used by /modmail close.
func (b *Bot) routeInteractionChannel(ctx context.Context, interaction *discordgo.InteractionCreate) (storage.ModmailThread, error) {
	name, parentID := b.channelNameAndParent(interaction.ChannelID)
	return b.router.RouteChannelEvent(ctx, interaction.GuildID, interaction.ChannelID, name, parentID)
}
