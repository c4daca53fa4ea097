package consistency

import (
	"context"
	"fmt"

	"mailroom/internal/storage"

	"go.uber.org/zap"
)

// Fixer reconciles the two stored locations of the modmail flag: the
// dedicated column and the nested settings-blob field. The nested value is
// authoritative only when it was explicitly written; otherwise the column
// wins and is projected into the blob.
type Fixer struct {
	store  *storage.Store
	logger *zap.Logger
}

type Report struct {
	Total      int
	Fixed      int
	Consistent int
	Errors     int
}

func New(store *storage.Store, logger *zap.Logger) *Fixer {
	return &Fixer{store: store, logger: logger}
}

// AuditAndFix walks every guild record. Per-guild failures are counted and
// logged, never abort the batch. A second run after a clean pass reports
// zero fixed.
func (f *Fixer) AuditAndFix(ctx context.Context) (Report, error) {
	all, err := f.store.ListGuildSettings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list guild settings: %w", err)
	}

	report := Report{Total: len(all)}
	for _, settings := range all {
		nested := settings.Settings.Modmail.Enabled
		if nested != nil && *nested == settings.ModmailEnabled {
			report.Consistent++
			continue
		}

		resolved := settings.ModmailEnabled
		if nested != nil {
			resolved = *nested
		}
		settings.ModmailEnabled = resolved
		settings.Settings.Modmail.Enabled = &resolved

		if err := f.store.UpsertGuildSettings(ctx, settings); err != nil {
			report.Errors++
			f.logger.Error("flag repair failed", zap.String("guild_id", settings.GuildID), zap.Error(err))
			continue
		}
		report.Fixed++
		f.logger.Info("modmail flag repaired",
			zap.String("guild_id", settings.GuildID),
			zap.Bool("enabled", resolved))
	}
	return report, nil
}
