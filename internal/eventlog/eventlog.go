package eventlog

import (
	"context"
	"time"

	"mailroom/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Log categories, matched against GuildSettings.EnabledCategories and the
// CategoryChannels routing map.
const (
	CategoryMembers  = "members"
	CategoryMessages = "messages"
	CategoryChannels = "channels"
	CategoryRoles    = "roles"
)

// Sender posts an embed to a channel; the bot implements it.
type Sender interface {
	SendChannelEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

// Event is one loggable guild occurrence.
type Event struct {
	Title       string
	Description string
	// AuthorID/AuthorRoles and ChannelID feed the ignore lists; any may be
	// empty when the event has no author or source channel.
	AuthorID    string
	AuthorRoles []string
	ChannelID   string
}

type Logger struct {
	store  *storage.Store
	sender Sender
	logger *zap.Logger
	color  int
}

func New(store *storage.Store, sender Sender, logger *zap.Logger, color int) *Logger {
	return &Logger{store: store, sender: sender, logger: logger, color: color}
}

// Emit routes the event to the guild's configured channel for the category.
// Disabled categories, unset channels, and ignore-list hits drop silently;
// send failures log and drop.
func (l *Logger) Emit(ctx context.Context, guildID, category string, event Event) {
	settings, err := l.store.EnsureGuildSettings(ctx, guildID)
	if err != nil {
		l.logger.Warn("event log settings lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}

	if !contains(settings.EnabledCategories, category) {
		return
	}
	if event.ChannelID != "" && contains(settings.IgnoredChannels, event.ChannelID) {
		return
	}
	for _, role := range event.AuthorRoles {
		if contains(settings.IgnoredRoles, role) {
			return
		}
	}

	target := settings.CategoryChannels[category]
	if target == "" {
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       event.Title,
		Description: event.Description,
		Color:       l.color,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	if event.AuthorID != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "User " + event.AuthorID}
	}
	if err := l.sender.SendChannelEmbed(ctx, target, embed); err != nil {
		l.logger.Warn("event log delivery failed",
			zap.String("guild_id", guildID),
			zap.String("category", category),
			zap.Error(err))
	}
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
