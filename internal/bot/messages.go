package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailroom/internal/eventlog"
	"mailroom/internal/router"
	"mailroom/internal/storage"
	"mailroom/internal/threads"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	defer b.recoverHandler("message_create")

	if msg.Author == nil || msg.Author.Bot {
		return
	}

	ctx := context.Background()
	if msg.GuildID == "" {
		b.handleDirectMessage(ctx, msg)
		return
	}
	b.handleGuildMessage(ctx, msg)
}

func (b *Bot) handleDirectMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	userID := msg.Author.ID

	if !b.cooldown.Allow(userID, time.Now()) {
		b.dmNotice(ctx, userID, "Slow Down", "You're sending messages too quickly. Please wait a moment and try again.", b.cfg.EmbedColors.Notice)
		return
	}

	shared := b.sharedGuildIDs(userID)
	route, err := b.router.RouteInboundDM(ctx, userID, shared)
	if err != nil {
		b.logger.Error("dm routing failed", zap.String("user_id", userID), zap.Error(err))
		b.dmNotice(ctx, userID, "Something Went Wrong", "Your message could not be processed right now. Please try again later.", b.cfg.EmbedColors.Error)
		return
	}

	for _, lost := range route.LostThreads {
		b.dmNotice(ctx, userID, "Conversation Lost",
			fmt.Sprintf("Your previous conversation with **%s** was closed because its channel no longer exists.", b.guildName(lost.GuildID)),
			b.cfg.EmbedColors.Notice)
	}

	relay := inboundMessage(msg)

	switch route.Decision {
	case router.DecisionNone:
		b.dmNotice(ctx, userID, "No Destination", "No server you share with me has modmail enabled.", b.cfg.EmbedColors.Notice)
	case router.DecisionForward:
		if err := b.manager.Forward(ctx, route.Thread, relay, threads.ToStaff); err != nil {
			b.logger.Error("dm forward failed", zap.Int64("thread_id", route.Thread.ID), zap.Error(err))
			b.dmNotice(ctx, userID, "Something Went Wrong", "Your message could not be delivered. Please try again later.", b.cfg.EmbedColors.Error)
			return
		}
		b.dmNotice(ctx, userID, "Message Delivered",
			fmt.Sprintf("Delivered to the **%s** staff team.", b.guildName(route.Thread.GuildID)),
			b.cfg.EmbedColors.Notice)
	case router.DecisionCreate:
		if _, err := b.manager.Create(ctx, route.GuildID, relay); err != nil {
			b.logger.Error("thread create failed", zap.String("guild_id", route.GuildID), zap.Error(err))
			b.dmNotice(ctx, userID, "Something Went Wrong", "Your message could not be delivered. Please try again later.", b.cfg.EmbedColors.Error)
		}
	case router.DecisionPickThread:
		b.promptThreadPick(ctx, msg, route)
	case router.DecisionPickGuild:
		b.promptGuildPick(ctx, msg, route.EligibleGuilds)
	}
}

// handleGuildMessage relays staff messages typed inside a thread channel to
// the user. Anything outside a thread channel is ignored.
func (b *Bot) handleGuildMessage(ctx context.Context, msg *discordgo.MessageCreate) {
	name, parentID := b.channelNameAndParent(msg.ChannelID)
	thread, err := b.router.RouteChannelEvent(ctx, msg.GuildID, msg.ChannelID, name, parentID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Error("channel routing failed", zap.String("channel_id", msg.ChannelID), zap.Error(err))
		}
		return
	}
	if !thread.Open {
		return
	}

	relay := threads.Message{
		AuthorID:    msg.Author.ID,
		AuthorTag:   msg.Author.Username,
		Content:     msg.Content,
		Attachments: attachmentURLs(msg.Attachments),
	}
	if err := b.manager.Forward(ctx, &thread, relay, threads.ToUser); err != nil {
		b.logger.Error("staff relay failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
		b.dmFailureNotice(ctx, msg.ChannelID)
	}
}

func (b *Bot) promptThreadPick(ctx context.Context, msg *discordgo.MessageCreate, route router.Route) {
	b.stashPending(msg)

	options := make([]discordgo.SelectMenuOption, 0, len(route.Threads)+1)
	for _, thread := range route.Threads {
		options = append(options, discordgo.SelectMenuOption{
			Label:       b.guildName(thread.GuildID),
			Value:       fmt.Sprintf("thread:%d", thread.ID),
			Description: "Continue this conversation",
		})
	}
	options = append(options, discordgo.SelectMenuOption{
		Label:       "New Conversation",
		Value:       "new",
		Description: "Start a fresh conversation",
	})

	b.sendPickMenu(ctx, msg.Author.ID, "You have several open conversations. Where should this message go?", options)
}

func (b *Bot) promptGuildPick(ctx context.Context, msg *discordgo.MessageCreate, guildIDs []string) {
	b.stashPending(msg)

	options := make([]discordgo.SelectMenuOption, 0, len(guildIDs))
	for _, guildID := range guildIDs {
		options = append(options, discordgo.SelectMenuOption{
			Label: b.guildName(guildID),
			Value: "guild:" + guildID,
		})
	}

	b.sendPickMenu(ctx, msg.Author.ID, "Several servers can receive your message. Pick one:", options)
}

func (b *Bot) stashPending(msg *discordgo.MessageCreate) {
	b.pending.Set(msg.Author.ID, pendingDM{
		Content:     msg.Content,
		Attachments: attachmentURLs(msg.Attachments),
		AuthorTag:   msg.Author.Username,
	}, time.Now())
}

func (b *Bot) sendPickMenu(ctx context.Context, userID, prompt string, options []discordgo.SelectMenuOption) {
	channel, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Warn("pick menu dm failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	_, err = b.session.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{b.commandEmbed("Choose a Server", prompt, b.cfg.EmbedColors.Notice, nil)},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.SelectMenu{
						CustomID:    "mailroom:pick",
						Placeholder: "Select a destination",
						Options:     options,
					},
				},
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Warn("pick menu send failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// onChannelDelete covers two concerns: an out-of-band deleted backing
// channel closes its thread and tells the user, and channel deletions feed
// the event log.
func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	defer b.recoverHandler("channel_delete")

	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	ctx := context.Background()

	thread, err := b.store.ThreadByChannel(ctx, event.Channel.ID)
	if err == nil && thread.Open {
		if _, err := b.store.CloseThread(ctx, thread.ID, "system", "channel missing", time.Now()); err != nil {
			b.logger.Error("orphan thread close failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
		} else {
			b.dmNotice(ctx, thread.UserID, "Conversation Closed",
				fmt.Sprintf("Your conversation with **%s** was closed because its channel was deleted. Send a new message to start another one.", b.guildName(thread.GuildID)),
				b.cfg.EmbedColors.Notice)
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.logger.Error("thread lookup failed", zap.String("channel_id", event.Channel.ID), zap.Error(err))
	}

	b.events.Emit(ctx, event.Channel.GuildID, eventlog.CategoryChannels, eventlog.Event{
		Title:       "Channel Deleted",
		Description: fmt.Sprintf("#%s (`%s`) was deleted.", event.Channel.Name, event.Channel.ID),
		ChannelID:   event.Channel.ID,
	})
}

// channelNameAndParent reads name and parent from the state cache, REST on
// a miss. Empty values only disable the name-pattern fallback.
func (b *Bot) channelNameAndParent(channelID string) (string, string) {
	channel, err := b.session.State.Channel(channelID)
	if err != nil {
		channel, err = b.session.Channel(channelID)
	}
	if err != nil || channel == nil {
		return "", ""
	}
	return channel.Name, channel.ParentID
}

// dmFailureNotice tells the staff channel that a relay to the user failed,
// without saying why; blocked DMs and closed DMs look the same.
func (b *Bot) dmFailureNotice(ctx context.Context, channelID string) {
	embed := b.commandEmbed("Delivery Failed", "The user could not be reached by DM.", b.cfg.EmbedColors.Error, nil)
	if err := b.SendChannelEmbed(ctx, channelID, embed); err != nil {
		b.logger.Warn("delivery failure notice failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (b *Bot) recoverHandler(scope string) {
	if r := recover(); r != nil {
		b.logger.Error("handler panic",
			zap.String("scope", scope),
			zap.Any("panic", r),
			zap.Stack("stack"))
	}
}

func inboundMessage(msg *discordgo.MessageCreate) threads.Message {
	return threads.Message{
		AuthorID:    msg.Author.ID,
		AuthorTag:   msg.Author.Username,
		Content:     msg.Content,
		Attachments: attachmentURLs(msg.Attachments),
	}
}

func attachmentURLs(attachments []*discordgo.MessageAttachment) []string {
	if len(attachments) == 0 {
		return nil
	}
	urls := make([]string, 0, len(attachments))
	for _, attachment := range attachments {
		if attachment != nil && attachment.URL != "" {
			urls = append(urls, attachment.URL)
		}
	}
	return urls
}
