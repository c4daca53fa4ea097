package storage

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestEnsureGuildSettingsCreatesLazily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetGuildSettings(ctx, "g1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	settings, err := store.EnsureGuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("ensure guild settings: %v", err)
	}
	if settings.GuildID != "g1" {
		t.Fatalf("expected guild g1, got %q", settings.GuildID)
	}
	if settings.ModmailEnabled {
		t.Fatal("new guild should have modmail disabled")
	}
	if settings.Settings.Modmail.Enabled != nil {
		t.Fatal("nested flag should be unset on a fresh record")
	}

	if _, err := store.GetGuildSettings(ctx, "g1"); err != nil {
		t.Fatalf("get after ensure: %v", err)
	}
}

func TestUpsertGuildSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	enabled := true
	settings := GuildSettings{
		GuildID:        "g1",
		ModmailEnabled: true,
		Settings: SettingsBlob{
			Modmail: ModmailSettings{
				Enabled:      &enabled,
				CategoryID:   "cat1",
				LogChannelID: "log1",
			},
		},
		IgnoredChannels:   []string{"c1", "c2"},
		IgnoredRoles:      []string{"r1"},
		EnabledCategories: []string{"members", "messages"},
		CategoryChannels:  map[string]string{"members": "c3"},
	}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("upsert guild settings: %v", err)
	}

	settings.Settings.Modmail.CategoryID = "cat2"
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("update guild settings: %v", err)
	}

	got, err := store.GetGuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if got.Settings.Modmail.CategoryID != "cat2" {
		t.Fatalf("expected category cat2, got %q", got.Settings.Modmail.CategoryID)
	}
	if got.Settings.Modmail.Enabled == nil || !*got.Settings.Modmail.Enabled {
		t.Fatal("nested flag should round trip as explicitly true")
	}
	if len(got.IgnoredChannels) != 2 || got.IgnoredChannels[0] != "c1" {
		t.Fatalf("ignored channels mismatch: %v", got.IgnoredChannels)
	}
	if got.CategoryChannels["members"] != "c3" {
		t.Fatalf("category channels mismatch: %v", got.CategoryChannels)
	}
}

func TestSetModmailEnabledWritesBothLocations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetModmailEnabled(ctx, "g1", true); err != nil {
		t.Fatalf("set modmail enabled: %v", err)
	}

	got, err := store.GetGuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("get guild settings: %v", err)
	}
	if !got.ModmailEnabled {
		t.Fatal("column should be true")
	}
	if got.Settings.Modmail.Enabled == nil || !*got.Settings.Modmail.Enabled {
		t.Fatal("nested flag should be explicitly true")
	}
	if !got.ModmailOn() {
		t.Fatal("effective flag should be true")
	}
}

func TestModmailOnNestedWins(t *testing.T) {
	nested := false
	settings := GuildSettings{
		ModmailEnabled: true,
		Settings:       SettingsBlob{Modmail: ModmailSettings{Enabled: &nested}},
	}
	if settings.ModmailOn() {
		t.Fatal("explicitly set nested flag should win over the column")
	}

	settings.Settings.Modmail.Enabled = nil
	if !settings.ModmailOn() {
		t.Fatal("unset nested flag should fall back to the column")
	}
}

func TestResetGuildSettings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		if _, err := store.EnsureGuildSettings(ctx, id); err != nil {
			t.Fatalf("ensure %s: %v", id, err)
		}
	}

	count, err := store.ResetGuildSettings(ctx)
	if err != nil {
		t.Fatalf("reset guild settings: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 records cleared, got %d", count)
	}

	all, err := store.ListGuildSettings(ctx)
	if err != nil {
		t.Fatalf("list guild settings: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty list, got %d", len(all))
	}
}
