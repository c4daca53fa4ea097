package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailroom/internal/storage"

	"go.uber.org/zap"
)

type fakeResolver struct {
	channels map[string]bool
}

func (f *fakeResolver) HasChannel(channelID string) bool {
	return f.channels[channelID]
}

func newTestRouter(t *testing.T, window time.Duration) (*Router, *storage.Store, *fakeResolver) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	resolver := &fakeResolver{channels: map[string]bool{}}
	return New(store, resolver, zap.NewNop(), window), store, resolver
}

func enableModmail(t *testing.T, store *storage.Store, guildID string) {
	t.Helper()
	if err := store.SetModmailEnabled(context.Background(), guildID, true); err != nil {
		t.Fatalf("enable modmail for %s: %v", guildID, err)
	}
}

func openThread(t *testing.T, store *storage.Store, resolver *fakeResolver, channelID, userID, guildID string, lastMessageAt time.Time) storage.ModmailThread {
	t.Helper()
	thread, err := store.CreateThread(context.Background(), storage.ModmailThread{
		ChannelID:     channelID,
		UserID:        userID,
		GuildID:       guildID,
		LastMessageAt: lastMessageAt,
		MessageCount:  1,
	})
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	resolver.channels[channelID] = true
	return thread
}

func TestRouteDMNoEligibleGuilds(t *testing.T) {
	router, store, _ := newTestRouter(t, time.Hour)
	ctx := context.Background()

	// Shared guilds exist but none has modmail switched on.
	if _, err := store.EnsureGuildSettings(ctx, "g1"); err != nil {
		t.Fatalf("ensure settings: %v", err)
	}

	route, err := router.RouteInboundDM(ctx, "u1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionNone {
		t.Fatalf("expected DecisionNone, got %v", route.Decision)
	}
}

func TestRouteDMSingleEligibleGuildCreates(t *testing.T) {
	router, store, _ := newTestRouter(t, time.Hour)
	ctx := context.Background()

	enableModmail(t, store, "g1")
	if _, err := store.EnsureGuildSettings(ctx, "g2"); err != nil {
		t.Fatalf("ensure settings: %v", err)
	}

	route, err := router.RouteInboundDM(ctx, "u1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionCreate {
		t.Fatalf("expected DecisionCreate, got %v", route.Decision)
	}
	if route.GuildID != "g1" {
		t.Fatalf("expected guild g1, got %q", route.GuildID)
	}
}

func TestRouteDMMultipleEligibleGuildsPrompts(t *testing.T) {
	router, store, _ := newTestRouter(t, time.Hour)
	ctx := context.Background()

	enableModmail(t, store, "g1")
	enableModmail(t, store, "g2")

	route, err := router.RouteInboundDM(ctx, "u1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionPickGuild {
		t.Fatalf("expected DecisionPickGuild, got %v", route.Decision)
	}
	if len(route.EligibleGuilds) != 2 {
		t.Fatalf("expected 2 eligible guilds, got %v", route.EligibleGuilds)
	}
}

func TestRouteDMSingleOpenThreadForwards(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	enableModmail(t, store, "g1")
	thread := openThread(t, store, resolver, "ch1", "u1", "g1", time.Now().Add(-5*time.Hour))

	route, err := router.RouteInboundDM(ctx, "u1", []string{"g1"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionForward {
		t.Fatalf("expected DecisionForward, got %v", route.Decision)
	}
	if route.Thread == nil || route.Thread.ID != thread.ID {
		t.Fatalf("expected thread %d, got %+v", thread.ID, route.Thread)
	}
}

func TestRouteDMRecentThreadWinsWithinWindow(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	openThread(t, store, resolver, "stale", "u1", "g1", time.Now().Add(-3*time.Hour))
	recent := openThread(t, store, resolver, "recent", "u1", "g2", time.Now().Add(-10*time.Minute))

	route, err := router.RouteInboundDM(ctx, "u1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionForward {
		t.Fatalf("expected DecisionForward, got %v", route.Decision)
	}
	if route.Thread.ID != recent.ID {
		t.Fatalf("expected most recent thread %d, got %d", recent.ID, route.Thread.ID)
	}
}

func TestRouteDMStaleThreadsPrompt(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	openThread(t, store, resolver, "ch1", "u1", "g1", time.Now().Add(-3*time.Hour))
	openThread(t, store, resolver, "ch2", "u1", "g2", time.Now().Add(-2*time.Hour))

	route, err := router.RouteInboundDM(ctx, "u1", []string{"g1", "g2"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionPickThread {
		t.Fatalf("expected DecisionPickThread, got %v", route.Decision)
	}
	if len(route.Threads) != 2 {
		t.Fatalf("expected both threads offered, got %d", len(route.Threads))
	}
	if route.Threads[0].ChannelID != "ch2" {
		t.Fatalf("expected most recent first, got %q", route.Threads[0].ChannelID)
	}
}

func TestRouteDMZeroWindowAlwaysPrompts(t *testing.T) {
	router, store, resolver := newTestRouter(t, 0)
	ctx := context.Background()

	openThread(t, store, resolver, "ch1", "u1", "g1", time.Now())
	openThread(t, store, resolver, "ch2", "u1", "g2", time.Now().Add(-time.Minute))

	route, err := router.RouteInboundDM(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionPickThread {
		t.Fatalf("expected DecisionPickThread with disabled window, got %v", route.Decision)
	}
}

func TestRouteDMClosesLostThreads(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	lost := openThread(t, store, resolver, "gone", "u1", "g1", time.Now())
	survivor := openThread(t, store, resolver, "alive", "u1", "g2", time.Now())
	delete(resolver.channels, "gone")

	route, err := router.RouteInboundDM(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if route.Decision != DecisionForward {
		t.Fatalf("expected DecisionForward to survivor, got %v", route.Decision)
	}
	if route.Thread.ID != survivor.ID {
		t.Fatalf("expected thread %d, got %d", survivor.ID, route.Thread.ID)
	}
	if len(route.LostThreads) != 1 || route.LostThreads[0].ID != lost.ID {
		t.Fatalf("expected lost thread %d, got %+v", lost.ID, route.LostThreads)
	}

	got, err := store.ThreadByID(ctx, lost.ID)
	if err != nil {
		t.Fatalf("thread by id: %v", err)
	}
	if got.Open {
		t.Fatal("lost thread should be closed")
	}
	if got.CloseReason != "channel missing" {
		t.Fatalf("unexpected close reason %q", got.CloseReason)
	}
}

func TestRouteDMDeterministic(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	openThread(t, store, resolver, "ch1", "u1", "g1", time.Now().Add(-3*time.Hour))
	openThread(t, store, resolver, "ch2", "u1", "g2", time.Now().Add(-2*time.Hour))

	first, err := router.RouteInboundDM(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	second, err := router.RouteInboundDM(ctx, "u1", nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if first.Decision != second.Decision {
		t.Fatalf("decision changed between identical routes: %v vs %v", first.Decision, second.Decision)
	}
	if first.Threads[0].ID != second.Threads[0].ID {
		t.Fatal("thread ordering changed between identical routes")
	}
}

func TestRouteChannelEventDirectLookup(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	thread := openThread(t, store, resolver, "ch1", "12345", "g1", time.Now())

	got, err := router.RouteChannelEvent(ctx, "g1", "ch1", "modmail-12345", "cat1")
	if err != nil {
		t.Fatalf("route channel event: %v", err)
	}
	if got.ID != thread.ID {
		t.Fatalf("expected thread %d, got %d", thread.ID, got.ID)
	}

	// Second lookup is served from the cache and must agree.
	got, err = router.RouteChannelEvent(ctx, "g1", "ch1", "modmail-12345", "cat1")
	if err != nil {
		t.Fatalf("cached route: %v", err)
	}
	if got.ID != thread.ID {
		t.Fatalf("cached lookup diverged: %d", got.ID)
	}
}

func TestRouteChannelEventRebindsByName(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	thread := openThread(t, store, resolver, "old", "12345", "g1", time.Now())

	settings, err := store.EnsureGuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("ensure settings: %v", err)
	}
	settings.Settings.Modmail.CategoryID = "cat1"
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	got, err := router.RouteChannelEvent(ctx, "g1", "recreated", "modmail-12345", "cat1")
	if err != nil {
		t.Fatalf("route channel event: %v", err)
	}
	if got.ID != thread.ID {
		t.Fatalf("expected thread %d, got %d", thread.ID, got.ID)
	}
	if got.ChannelID != "recreated" {
		t.Fatalf("expected rebind to recreated, got %q", got.ChannelID)
	}

	stored, err := store.ThreadByID(ctx, thread.ID)
	if err != nil {
		t.Fatalf("thread by id: %v", err)
	}
	if stored.ChannelID != "recreated" {
		t.Fatalf("rebind not persisted, channel is %q", stored.ChannelID)
	}
}

func TestRouteChannelEventRejectsOutsideCategory(t *testing.T) {
	router, store, resolver := newTestRouter(t, time.Hour)
	ctx := context.Background()

	openThread(t, store, resolver, "old", "12345", "g1", time.Now())

	settings, err := store.EnsureGuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("ensure settings: %v", err)
	}
	settings.Settings.Modmail.CategoryID = "cat1"
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert settings: %v", err)
	}

	if _, err := router.RouteChannelEvent(ctx, "g1", "elsewhere", "modmail-12345", "other-cat"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound outside the category, got %v", err)
	}
	if _, err := router.RouteChannelEvent(ctx, "g1", "elsewhere", "general", "cat1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-matching name, got %v", err)
	}
}
