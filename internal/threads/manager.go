package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailroom/internal/config"
	"mailroom/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Direction int

const (
	ToStaff Direction = iota
	ToUser
)

// Message is the platform-independent view of one relayed message.
type Message struct {
	AuthorID    string
	AuthorTag   string
	Content     string
	Attachments []string
}

// Messenger is the outbound Discord surface the manager needs. The bot
// implements it over a discordgo session; tests supply a fake.
type Messenger interface {
	CreateStaffChannel(ctx context.Context, guildID, categoryID, name, topic string) (string, error)
	SendChannelEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
	SendThreadControls(ctx context.Context, channelID string, embed *discordgo.MessageEmbed, threadID int64) error
	SendUserEmbed(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error
	ScheduleChannelDelete(channelID string, after time.Duration)
}

type Manager struct {
	store     *storage.Store
	messenger Messenger
	logger    *zap.Logger
	colors    config.EmbedColors
	grace     time.Duration
}

func NewManager(store *storage.Store, messenger Messenger, logger *zap.Logger, colors config.EmbedColors, grace time.Duration) *Manager {
	return &Manager{
		store:     store,
		messenger: messenger,
		logger:    logger,
		colors:    colors,
		grace:     grace,
	}
}

// Create opens a new thread for the user in the guild: staff channel under
// the configured category, persisted record, opening summary with staff
// controls, optional log-channel notice, confirmation DM.
//
// The staff channel is created before the record insert, so a concurrent
// create can leave an orphan channel; the conflict path deletes it and
// forwards into the surviving thread instead.
func (m *Manager) Create(ctx context.Context, guildID string, msg Message) (storage.ModmailThread, error) {
	settings, err := m.store.EnsureGuildSettings(ctx, guildID)
	if err != nil {
		return storage.ModmailThread{}, fmt.Errorf("load guild settings: %w", err)
	}

	name := ChannelName(msg.AuthorID)
	topic := fmt.Sprintf("Modmail with %s (%s)", msg.AuthorTag, msg.AuthorID)
	channelID, err := m.messenger.CreateStaffChannel(ctx, guildID, settings.Settings.Modmail.CategoryID, name, topic)
	if err != nil {
		return storage.ModmailThread{}, fmt.Errorf("create staff channel: %w", err)
	}

	now := time.Now()
	thread, err := m.store.CreateThread(ctx, storage.ModmailThread{
		ChannelID:     channelID,
		UserID:        msg.AuthorID,
		GuildID:       guildID,
		LastMessageAt: now,
		MessageCount:  1,
	})
	if errors.Is(err, storage.ErrThreadExists) {
		m.messenger.ScheduleChannelDelete(channelID, 0)
		existing, fetchErr := m.store.OpenThread(ctx, msg.AuthorID, guildID)
		if fetchErr != nil {
			return storage.ModmailThread{}, fmt.Errorf("refetch open thread: %w", fetchErr)
		}
		if fwdErr := m.Forward(ctx, &existing, msg, ToStaff); fwdErr != nil {
			return storage.ModmailThread{}, fwdErr
		}
		return existing, nil
	}
	if err != nil {
		m.messenger.ScheduleChannelDelete(channelID, 0)
		return storage.ModmailThread{}, fmt.Errorf("persist thread: %w", err)
	}

	opening := m.messageEmbed("New Modmail Thread", msg, m.colors.Inbound)
	opening.Fields = append(opening.Fields, &discordgo.MessageEmbedField{
		Name: "User", Value: fmt.Sprintf("%s (`%s`)", msg.AuthorTag, msg.AuthorID), Inline: true,
	})
	if err := m.messenger.SendThreadControls(ctx, channelID, opening, thread.ID); err != nil {
		return storage.ModmailThread{}, fmt.Errorf("post opening message: %w", err)
	}

	if logChannel := settings.Settings.Modmail.LogChannelID; logChannel != "" {
		notice := m.noticeEmbed("Thread Opened", fmt.Sprintf("%s opened a modmail thread in <#%s>.", msg.AuthorTag, channelID))
		if err := m.messenger.SendChannelEmbed(ctx, logChannel, notice); err != nil {
			m.logger.Warn("log channel notice failed",
				zap.String("guild_id", guildID),
				zap.String("channel_id", logChannel),
				zap.Error(err))
		}
	}

	confirm := m.noticeEmbed("Message Delivered", "Your message was delivered to the staff team. Replies will arrive here.")
	if err := m.messenger.SendUserEmbed(ctx, msg.AuthorID, confirm); err != nil {
		m.logger.Warn("confirmation dm failed", zap.String("user_id", msg.AuthorID), zap.Error(err))
	}

	return thread, nil
}

// Forward relays one message through an existing thread and records the
// activity, which also clears any pending idle-close warning.
func (m *Manager) Forward(ctx context.Context, thread *storage.ModmailThread, msg Message, direction Direction) error {
	var err error
	switch direction {
	case ToStaff:
		err = m.messenger.SendChannelEmbed(ctx, thread.ChannelID, m.messageEmbed("Message Received", msg, m.colors.Inbound))
	case ToUser:
		err = m.messenger.SendUserEmbed(ctx, thread.UserID, m.messageEmbed("Staff Reply", msg, m.colors.Staff))
	default:
		return fmt.Errorf("unknown direction %d", direction)
	}
	if err != nil {
		return fmt.Errorf("forward message: %w", err)
	}

	now := time.Now()
	if err := m.store.TouchThread(ctx, thread.ID, now); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	thread.MessageCount++
	thread.LastMessageAt = now
	thread.WarningSent = false
	return nil
}

// Close transitions the thread OPEN -> CLOSED. The returned bool is false
// when the thread was already closed; callers report that, they do not
// treat it as failure. Notifications are best effort and the backing
// channel is deleted after a grace delay.
func (m *Manager) Close(ctx context.Context, thread *storage.ModmailThread, actorID, reason string) (bool, error) {
	closed, err := m.store.CloseThread(ctx, thread.ID, actorID, reason, time.Now())
	if err != nil {
		return false, fmt.Errorf("close thread: %w", err)
	}
	if !closed {
		return false, nil
	}
	thread.Open = false
	thread.ClosedBy = actorID
	thread.CloseReason = reason

	userNotice := m.noticeEmbed("Thread Closed", fmt.Sprintf("Your modmail conversation was closed (%s). Send a new message to start another one.", reason))
	if err := m.messenger.SendUserEmbed(ctx, thread.UserID, userNotice); err != nil {
		m.logger.Warn("close dm failed", zap.String("user_id", thread.UserID), zap.Error(err))
	}

	channelNotice := m.noticeEmbed("Thread Closed", fmt.Sprintf("Closed by <@%s>: %s", actorID, reason))
	if err := m.messenger.SendChannelEmbed(ctx, thread.ChannelID, channelNotice); err != nil {
		m.logger.Warn("close notice failed", zap.String("channel_id", thread.ChannelID), zap.Error(err))
	}

	m.messenger.ScheduleChannelDelete(thread.ChannelID, m.grace)
	return true, nil
}

type SweepReport struct {
	Scanned int
	Closed  int
	Failed  int
}

// SweepIdle closes every open thread idle past the threshold with reason
// "inactivity". One failing thread does not abort the sweep.
func (m *Manager) SweepIdle(ctx context.Context, threshold time.Duration) (SweepReport, error) {
	cutoff := time.Now().Add(-threshold)
	idle, err := m.store.IdleThreads(ctx, cutoff)
	if err != nil {
		return SweepReport{}, fmt.Errorf("list idle threads: %w", err)
	}

	report := SweepReport{Scanned: len(idle)}
	for i := range idle {
		thread := idle[i]
		closed, err := m.Close(ctx, &thread, "system", "inactivity")
		if err != nil {
			report.Failed++
			m.logger.Error("idle close failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
			continue
		}
		if closed {
			report.Closed++
		}
	}
	return report, nil
}

// WarnIdle sends a single closing-soon DM to threads that will cross the
// idle threshold within the lead window. Activity clears the latch.
func (m *Manager) WarnIdle(ctx context.Context, threshold, lead time.Duration) (int, error) {
	if lead <= 0 || lead >= threshold {
		return 0, nil
	}
	cutoff := time.Now().Add(-(threshold - lead))
	pending, err := m.store.UnwarnedIdleThreads(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list unwarned threads: %w", err)
	}

	warned := 0
	for _, thread := range pending {
		notice := m.noticeEmbed("Closing Soon", fmt.Sprintf("Your modmail conversation has been quiet for a while and will close automatically in about %s unless you reply.", formatDuration(lead)))
		if err := m.messenger.SendUserEmbed(ctx, thread.UserID, notice); err != nil {
			m.logger.Warn("idle warning dm failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
			continue
		}
		if err := m.store.MarkWarningSent(ctx, thread.ID); err != nil {
			m.logger.Warn("warning latch failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
			continue
		}
		warned++
	}
	return warned, nil
}

func (m *Manager) messageEmbed(title string, msg Message, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: msg.Content,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: msg.AuthorTag},
	}
	if len(msg.Attachments) > 0 {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Attachments",
			Value: strings.Join(msg.Attachments, "\n"),
		})
	}
	return embed
}

func (m *Manager) noticeEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       m.colors.Notice,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
}

func formatDuration(d time.Duration) string {
	if d >= time.Hour {
		return fmt.Sprintf("%d hours", int(d.Hours()))
	}
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}
