package consistency

import (
	"context"
	"testing"

	"mailroom/internal/storage"

	"go.uber.org/zap"
)

func newTestFixer(t *testing.T) (*Fixer, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(store, zap.NewNop()), store
}

func TestAuditProjectsColumnIntoBlob(t *testing.T) {
	fixer, store := newTestFixer(t)
	ctx := context.Background()

	// Column true, nested flag never written.
	settings := storage.GuildSettings{GuildID: "g1", ModmailEnabled: true}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	report, err := fixer.AuditAndFix(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Total != 1 || report.Fixed != 1 || report.Consistent != 0 || report.Errors != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, err := store.GetGuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if !got.ModmailEnabled {
		t.Fatal("column should stay true")
	}
	if got.Settings.Modmail.Enabled == nil || !*got.Settings.Modmail.Enabled {
		t.Fatal("nested flag should be projected from the column")
	}
}

func TestAuditNestedValueWins(t *testing.T) {
	fixer, store := newTestFixer(t)
	ctx := context.Background()

	nested := false
	settings := storage.GuildSettings{
		GuildID:        "g1",
		ModmailEnabled: true,
		Settings:       storage.SettingsBlob{Modmail: storage.ModmailSettings{Enabled: &nested}},
	}
	if err := store.UpsertGuildSettings(ctx, settings); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	report, err := fixer.AuditAndFix(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Fixed != 1 {
		t.Fatalf("expected one repair, got %+v", report)
	}

	got, err := store.GetGuildSettings(ctx, "g1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.ModmailEnabled {
		t.Fatal("column should follow the explicitly written nested value")
	}
	if got.Settings.Modmail.Enabled == nil || *got.Settings.Modmail.Enabled {
		t.Fatal("nested flag should stay false")
	}
}

func TestAuditConsistentRecordUntouched(t *testing.T) {
	fixer, store := newTestFixer(t)
	ctx := context.Background()

	if err := store.SetModmailEnabled(ctx, "g1", true); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	report, err := fixer.AuditAndFix(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Total != 1 || report.Consistent != 1 || report.Fixed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestAuditIsIdempotent(t *testing.T) {
	fixer, store := newTestFixer(t)
	ctx := context.Background()

	if err := store.UpsertGuildSettings(ctx, storage.GuildSettings{GuildID: "g1", ModmailEnabled: true}); err != nil {
		t.Fatalf("seed g1: %v", err)
	}
	nested := true
	if err := store.UpsertGuildSettings(ctx, storage.GuildSettings{
		GuildID:  "g2",
		Settings: storage.SettingsBlob{Modmail: storage.ModmailSettings{Enabled: &nested}},
	}); err != nil {
		t.Fatalf("seed g2: %v", err)
	}

	first, err := fixer.AuditAndFix(ctx)
	if err != nil {
		t.Fatalf("first audit: %v", err)
	}
	if first.Fixed != 2 {
		t.Fatalf("expected two repairs, got %+v", first)
	}

	second, err := fixer.AuditAndFix(ctx)
	if err != nil {
		t.Fatalf("second audit: %v", err)
	}
	if second.Fixed != 0 || second.Consistent != 2 {
		t.Fatalf("second run should find nothing to fix, got %+v", second)
	}
}
