package eventlog

import (
	"context"
	"fmt"
	"testing"

	"mailroom/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeSender struct {
	sent []string
	fail bool
}

func (f *fakeSender) SendChannelEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	if f.fail {
		return fmt.Errorf("send failed")
	}
	f.sent = append(f.sent, channelID)
	return nil
}

func newTestLogger(t *testing.T) (*Logger, *storage.Store, *fakeSender) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sender := &fakeSender{}
	return New(store, sender, zap.NewNop(), 0x5865F2), store, sender
}

func seedLogSettings(t *testing.T, store *storage.Store, settings storage.GuildSettings) {
	t.Helper()
	if err := store.UpsertGuildSettings(context.Background(), settings); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
}

func TestEmitRoutesToCategoryChannel(t *testing.T) {
	logger, store, sender := newTestLogger(t)

	seedLogSettings(t, store, storage.GuildSettings{
		GuildID:           "g1",
		EnabledCategories: []string{CategoryMembers},
		CategoryChannels:  map[string]string{CategoryMembers: "log-members"},
	})

	logger.Emit(context.Background(), "g1", CategoryMembers, Event{Title: "Member Joined"})
	if len(sender.sent) != 1 || sender.sent[0] != "log-members" {
		t.Fatalf("expected one send to log-members, got %v", sender.sent)
	}
}

func TestEmitDropsDisabledCategory(t *testing.T) {
	logger, store, sender := newTestLogger(t)

	seedLogSettings(t, store, storage.GuildSettings{
		GuildID:           "g1",
		EnabledCategories: []string{CategoryMembers},
		CategoryChannels:  map[string]string{CategoryMessages: "log-messages"},
	})

	logger.Emit(context.Background(), "g1", CategoryMessages, Event{Title: "Message Deleted"})
	if len(sender.sent) != 0 {
		t.Fatalf("disabled category should drop, got %v", sender.sent)
	}
}

func TestEmitDropsWithoutTargetChannel(t *testing.T) {
	logger, store, sender := newTestLogger(t)

	seedLogSettings(t, store, storage.GuildSettings{
		GuildID:           "g1",
		EnabledCategories: []string{CategoryRoles},
	})

	logger.Emit(context.Background(), "g1", CategoryRoles, Event{Title: "Role Created"})
	if len(sender.sent) != 0 {
		t.Fatalf("missing target channel should drop, got %v", sender.sent)
	}
}

func TestEmitHonorsIgnoreLists(t *testing.T) {
	logger, store, sender := newTestLogger(t)

	seedLogSettings(t, store, storage.GuildSettings{
		GuildID:           "g1",
		EnabledCategories: []string{CategoryMessages},
		CategoryChannels:  map[string]string{CategoryMessages: "log-messages"},
		IgnoredChannels:   []string{"spam-channel"},
		IgnoredRoles:      []string{"bot-role"},
	})
	ctx := context.Background()

	logger.Emit(ctx, "g1", CategoryMessages, Event{Title: "Edited", ChannelID: "spam-channel"})
	if len(sender.sent) != 0 {
		t.Fatalf("ignored channel should drop, got %v", sender.sent)
	}

	logger.Emit(ctx, "g1", CategoryMessages, Event{Title: "Edited", AuthorRoles: []string{"member", "bot-role"}})
	if len(sender.sent) != 0 {
		t.Fatalf("ignored role should drop, got %v", sender.sent)
	}

	logger.Emit(ctx, "g1", CategoryMessages, Event{Title: "Edited", ChannelID: "other", AuthorRoles: []string{"member"}})
	if len(sender.sent) != 1 {
		t.Fatalf("clean event should deliver, got %v", sender.sent)
	}
}

func TestEmitSurvivesSendFailure(t *testing.T) {
	logger, store, sender := newTestLogger(t)

	seedLogSettings(t, store, storage.GuildSettings{
		GuildID:           "g1",
		EnabledCategories: []string{CategoryMembers},
		CategoryChannels:  map[string]string{CategoryMembers: "log-members"},
	})
	sender.fail = true

	// Must not panic; delivery failures are logged and dropped.
	logger.Emit(context.Background(), "g1", CategoryMembers, Event{Title: "Member Joined"})
}
