package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailroom/internal/storage"
	"mailroom/internal/threads"
	"mailroom/internal/utils"

	"go.uber.org/zap"
)

// ChannelResolver answers whether a backing channel still exists on the
// platform. The bot implements it over the session state.
type ChannelResolver interface {
	HasChannel(channelID string) bool
}

type Decision int

const (
	// DecisionNone: no open thread and no eligible guild; tell the user.
	DecisionNone Decision = iota
	// DecisionForward: deliver into Route.Thread.
	DecisionForward
	// DecisionCreate: open a new thread in Route.GuildID.
	DecisionCreate
	// DecisionPickThread: several open threads, none recently active;
	// ask the user which conversation (or a new one).
	DecisionPickThread
	// DecisionPickGuild: no open thread, several eligible guilds.
	DecisionPickGuild
)

// Route is the outcome of routing one inbound DM.
type Route struct {
	Decision       Decision
	Thread         *storage.ModmailThread
	GuildID        string
	Threads        []storage.ModmailThread
	EligibleGuilds []string
	// LostThreads were closed as a side effect because their backing
	// channel vanished out-of-band; the user should be told.
	LostThreads []storage.ModmailThread
}

type Router struct {
	store    *storage.Store
	channels ChannelResolver
	logger   *zap.Logger
	window   time.Duration
	byChan   *utils.TTLCache[int64]
}

func New(store *storage.Store, channels ChannelResolver, logger *zap.Logger, window time.Duration) *Router {
	return &Router{
		store:    store,
		channels: channels,
		logger:   logger,
		window:   window,
		byChan:   utils.NewTTLCache[int64](10*time.Minute, 512),
	}
}

// RouteInboundDM maps a user DM to zero-or-one target thread.
// sharedGuildIDs are the guilds the bot shares with the user; the caller
// resolves them from the session. The result is a pure function of store
// state, the shared-guild set, and the clock.
func (r *Router) RouteInboundDM(ctx context.Context, userID string, sharedGuildIDs []string) (Route, error) {
	open, err := r.store.OpenThreadsForUser(ctx, userID)
	if err != nil {
		return Route{}, fmt.Errorf("list open threads: %w", err)
	}

	var route Route
	live := make([]storage.ModmailThread, 0, len(open))
	for _, thread := range open {
		if r.channels.HasChannel(thread.ChannelID) {
			live = append(live, thread)
			continue
		}
		if _, err := r.store.CloseThread(ctx, thread.ID, "system", "channel missing", time.Now()); err != nil {
			r.logger.Error("lost thread close failed", zap.Int64("thread_id", thread.ID), zap.Error(err))
			continue
		}
		route.LostThreads = append(route.LostThreads, thread)
	}

	for _, guildID := range sharedGuildIDs {
		settings, err := r.store.EnsureGuildSettings(ctx, guildID)
		if err != nil {
			// Fail closed: a guild we cannot read settings for is not
			// eligible, and the user still gets an answer.
			r.logger.Warn("guild settings lookup failed", zap.String("guild_id", guildID), zap.Error(err))
			continue
		}
		if settings.ModmailOn() {
			route.EligibleGuilds = append(route.EligibleGuilds, guildID)
		}
	}

	switch {
	case len(live) == 1:
		route.Decision = DecisionForward
		route.Thread = &live[0]
	case len(live) > 1:
		// live is ordered most-recently-active first.
		if r.window > 0 && time.Since(live[0].LastMessageAt) <= r.window {
			route.Decision = DecisionForward
			route.Thread = &live[0]
			break
		}
		route.Decision = DecisionPickThread
		route.Threads = live
	case len(route.EligibleGuilds) == 0:
		route.Decision = DecisionNone
	case len(route.EligibleGuilds) == 1:
		route.Decision = DecisionCreate
		route.GuildID = route.EligibleGuilds[0]
	default:
		route.Decision = DecisionPickGuild
	}
	return route, nil
}

// RouteChannelEvent maps a staff action inside a guild channel to its
// thread. The direct channel-ID lookup can miss when the backing channel
// was recreated; the fallback matches the channel name within the guild's
// modmail category and rebinds the record.
func (r *Router) RouteChannelEvent(ctx context.Context, guildID, channelID, channelName, parentID string) (storage.ModmailThread, error) {
	now := time.Now()
	if id, ok := r.byChan.Get(channelID, now); ok {
		thread, err := r.store.ThreadByID(ctx, id)
		if err == nil && thread.ChannelID == channelID {
			return thread, nil
		}
		r.byChan.Delete(channelID)
	}

	thread, err := r.store.ThreadByChannel(ctx, channelID)
	if err == nil {
		r.byChan.Set(channelID, thread.ID, now)
		return thread, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.ModmailThread{}, err
	}

	userID, ok := threads.ParseChannelName(channelName)
	if !ok {
		return storage.ModmailThread{}, storage.ErrNotFound
	}
	settings, err := r.store.EnsureGuildSettings(ctx, guildID)
	if err != nil {
		return storage.ModmailThread{}, err
	}
	if category := settings.Settings.Modmail.CategoryID; category == "" || category != parentID {
		return storage.ModmailThread{}, storage.ErrNotFound
	}

	thread, err = r.store.OpenThread(ctx, userID, guildID)
	if err != nil {
		return storage.ModmailThread{}, err
	}
	if err := r.store.RebindThreadChannel(ctx, thread.ID, channelID); err != nil {
		return storage.ModmailThread{}, fmt.Errorf("rebind thread channel: %w", err)
	}
	r.logger.Info("thread rebound to recreated channel",
		zap.Int64("thread_id", thread.ID),
		zap.String("channel_id", channelID))
	thread.ChannelID = channelID
	r.byChan.Set(channelID, thread.ID, now)
	return thread, nil
}
