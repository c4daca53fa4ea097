package bot

import (
	"context"
	"fmt"
	"time"

	"mailroom/internal/config"
	"mailroom/internal/consistency"
	"mailroom/internal/eventlog"
	"mailroom/internal/router"
	"mailroom/internal/storage"
	"mailroom/internal/threads"
	"mailroom/internal/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	fixer    *consistency.Fixer
	session  *discordgo.Session
	router   *router.Router
	manager  *threads.Manager
	events   *eventlog.Logger
	pending  *utils.TTLCache[pendingDM]
	cooldown *utils.Cooldown
	cron     *cron.Cron
}

// pendingDM holds a user's message while they pick a destination from the
// disambiguation menu.
type pendingDM struct {
	Content     string
	Attachments []string
	AuthorTag   string
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, fixer *consistency.Fixer) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		fixer:    fixer,
		session:  session,
		pending:  utils.NewTTLCache[pendingDM](5*time.Minute, 1024),
		cooldown: utils.NewCooldown(time.Duration(cfg.ReplyCooldownSecs) * time.Second),
	}

	b.router = router.New(store, b, logger, time.Duration(cfg.RouteWindowMinutes)*time.Minute)
	b.manager = threads.NewManager(store, b, logger, cfg.EmbedColors, time.Duration(cfg.DeleteGraceSeconds)*time.Second)
	b.events = eventlog.New(store, b, logger, cfg.EmbedColors.Notice)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onChannelCreate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onRoleCreate)
	b.session.AddHandler(b.onRoleDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	return b.startScheduler()
}

func (b *Bot) Close(ctx context.Context) {
	if b.cron != nil {
		stopped := b.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) startScheduler() error {
	b.cron = cron.New()

	threshold := time.Duration(b.cfg.IdleCloseHours) * time.Hour
	lead := time.Duration(b.cfg.IdleWarnHours) * time.Hour

	if _, err := b.cron.AddFunc(b.cfg.SweepCron, func() {
		ctx := context.Background()
		if warned, err := b.manager.WarnIdle(ctx, threshold, lead); err != nil {
			b.logger.Error("idle warn pass failed", zap.Error(err))
		} else if warned > 0 {
			b.logger.Info("idle warnings sent", zap.Int("count", warned))
		}
		report, err := b.manager.SweepIdle(ctx, threshold)
		if err != nil {
			b.logger.Error("idle sweep failed", zap.Error(err))
			return
		}
		if report.Scanned > 0 {
			b.logger.Info("idle sweep finished",
				zap.Int("scanned", report.Scanned),
				zap.Int("closed", report.Closed),
				zap.Int("failed", report.Failed))
		}
	}); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}

	if _, err := b.cron.AddFunc(b.cfg.AuditCron, func() {
		report, err := b.fixer.AuditAndFix(context.Background())
		if err != nil {
			b.logger.Error("settings audit failed", zap.Error(err))
			return
		}
		if report.Fixed > 0 || report.Errors > 0 {
			b.logger.Info("settings audit finished",
				zap.Int("total", report.Total),
				zap.Int("fixed", report.Fixed),
				zap.Int("errors", report.Errors))
		}
	}); err != nil {
		return fmt.Errorf("schedule settings audit: %w", err)
	}

	b.cron.Start()
	return nil
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", len(event.Guilds)))
}

// HasChannel implements router.ChannelResolver.
func (b *Bot) HasChannel(channelID string) bool {
	if _, err := b.session.State.Channel(channelID); err == nil {
		return true
	}
	_, err := b.session.Channel(channelID)
	return err == nil
}

// CreateStaffChannel implements threads.Messenger.
func (b *Bot) CreateStaffChannel(ctx context.Context, guildID, categoryID, name, topic string) (string, error) {
	channel, err := b.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    topic,
		ParentID: categoryID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

// SendChannelEmbed implements threads.Messenger and eventlog.Sender.
func (b *Bot) SendChannelEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	_, err := b.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	return err
}

// SendThreadControls posts the opening summary with the staff Reply/Close
// buttons attached.
func (b *Bot) SendThreadControls(ctx context.Context, channelID string, embed *discordgo.MessageEmbed, threadID int64) error {
	_, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Reply",
						Style:    discordgo.PrimaryButton,
						CustomID: fmt.Sprintf("mailroom:reply:%d", threadID),
					},
					discordgo.Button{
						Label:    "Close",
						Style:    discordgo.DangerButton,
						CustomID: fmt.Sprintf("mailroom:close:%d", threadID),
					},
				},
			},
		},
	}, discordgo.WithContext(ctx))
	return err
}

// SendUserEmbed implements threads.Messenger.
func (b *Bot) SendUserEmbed(ctx context.Context, userID string, embed *discordgo.MessageEmbed) error {
	channel, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = b.session.ChannelMessageSendEmbed(channel.ID, embed, discordgo.WithContext(ctx))
	return err
}

// ScheduleChannelDelete implements threads.Messenger. Deletion failures are
// logged, not retried.
func (b *Bot) ScheduleChannelDelete(channelID string, after time.Duration) {
	go func() {
		if after > 0 {
			time.Sleep(after)
		}
		if _, err := b.session.ChannelDelete(channelID); err != nil {
			b.logger.Warn("channel delete failed", zap.String("channel_id", channelID), zap.Error(err))
		}
	}()
}

// sharedGuildIDs resolves the guilds the bot shares with the user, state
// cache first, REST on a miss.
func (b *Bot) sharedGuildIDs(userID string) []string {
	var shared []string
	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		if _, err := b.session.State.Member(guild.ID, userID); err == nil {
			shared = append(shared, guild.ID)
			continue
		}
		if member, err := b.session.GuildMember(guild.ID, userID); err == nil && member != nil {
			shared = append(shared, guild.ID)
		}
	}
	return shared
}

func (b *Bot) guildName(guildID string) string {
	if guild, err := b.session.State.Guild(guildID); err == nil && guild.Name != "" {
		return guild.Name
	}
	return guildID
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

// dmNotice is the user-facing reply of last resort; every inbound DM gets
// some answer, even when it is only an apology.
func (b *Bot) dmNotice(ctx context.Context, userID, title, description string, color int) {
	embed := b.commandEmbed(title, description, color, nil)
	if err := b.SendUserEmbed(ctx, userID, embed); err != nil {
		b.logger.Warn("user notice failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}
	return interaction.User
}
