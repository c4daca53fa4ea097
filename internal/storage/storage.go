package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrNotFound = errors.New("storage: not found")

type Store struct {
	db *sql.DB
}

// ModmailSettings is the modmail section of the per-guild settings blob.
// Enabled is a pointer so an explicitly written value is distinguishable
// from an absent one; the consistency fixer depends on that.
type ModmailSettings struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	CategoryID   string `json:"category_id,omitempty"`
	LogChannelID string `json:"log_channel_id,omitempty"`
}

type SettingsBlob struct {
	Modmail ModmailSettings `json:"modmail"`
}

type GuildSettings struct {
	GuildID           string
	ModmailEnabled    bool
	Settings          SettingsBlob
	IgnoredChannels   []string
	IgnoredRoles      []string
	EnabledCategories []string
	CategoryChannels  map[string]string
}

// ModmailOn resolves the effective modmail flag: the nested value wins when
// it was explicitly set, otherwise the dedicated column.
func (g GuildSettings) ModmailOn() bool {
	if g.Settings.Modmail.Enabled != nil {
		return *g.Settings.Modmail.Enabled
	}
	return g.ModmailEnabled
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; a single connection also keeps
	// ":memory:" stores coherent across the pool.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT modmail_enabled, settings_json, ignored_channels, ignored_roles,
		enabled_categories, category_channels
		FROM guild_settings WHERE guild_id = ?`, guildID)

	result := GuildSettings{GuildID: guildID}

	var enabled int
	var settingsJSON, ignoredChannels, ignoredRoles, enabledCategories, categoryChannels string
	err := row.Scan(&enabled, &settingsJSON, &ignoredChannels, &ignoredRoles, &enabledCategories, &categoryChannels)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GuildSettings{}, ErrNotFound
		}
		return GuildSettings{}, err
	}
	result.ModmailEnabled = enabled == 1

	if err := json.Unmarshal([]byte(settingsJSON), &result.Settings); err != nil {
		return GuildSettings{}, fmt.Errorf("settings blob for guild %s: %w", guildID, err)
	}
	if err := json.Unmarshal([]byte(ignoredChannels), &result.IgnoredChannels); err != nil {
		return GuildSettings{}, err
	}
	if err := json.Unmarshal([]byte(ignoredRoles), &result.IgnoredRoles); err != nil {
		return GuildSettings{}, err
	}
	if err := json.Unmarshal([]byte(enabledCategories), &result.EnabledCategories); err != nil {
		return GuildSettings{}, err
	}
	if err := json.Unmarshal([]byte(categoryChannels), &result.CategoryChannels); err != nil {
		return GuildSettings{}, err
	}
	return result, nil
}

// EnsureGuildSettings is the find-or-create path: guild records come into
// existence on first reference.
func (s *Store) EnsureGuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	settings, err := s.GetGuildSettings(ctx, guildID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return GuildSettings{}, err
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO guild_settings (guild_id) VALUES (?)`, guildID)
	if err != nil {
		return GuildSettings{}, err
	}
	return s.GetGuildSettings(ctx, guildID)
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	settingsJSON, err := json.Marshal(settings.Settings)
	if err != nil {
		return err
	}
	ignoredChannels, err := marshalList(settings.IgnoredChannels)
	if err != nil {
		return err
	}
	ignoredRoles, err := marshalList(settings.IgnoredRoles)
	if err != nil {
		return err
	}
	enabledCategories, err := marshalList(settings.EnabledCategories)
	if err != nil {
		return err
	}
	categoryChannels, err := marshalMap(settings.CategoryChannels)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (
			guild_id, modmail_enabled, settings_json, ignored_channels,
			ignored_roles, enabled_categories, category_channels
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			modmail_enabled = excluded.modmail_enabled,
			settings_json = excluded.settings_json,
			ignored_channels = excluded.ignored_channels,
			ignored_roles = excluded.ignored_roles,
			enabled_categories = excluded.enabled_categories,
			category_channels = excluded.category_channels
	`,
		settings.GuildID,
		boolToInt(settings.ModmailEnabled),
		string(settingsJSON),
		ignoredChannels,
		ignoredRoles,
		enabledCategories,
		categoryChannels,
	)
	return err
}

// SetModmailEnabled is the single writer for the modmail flag: it writes the
// dedicated column and the nested blob field together so they cannot drift
// through this path.
func (s *Store) SetModmailEnabled(ctx context.Context, guildID string, enabled bool) error {
	settings, err := s.EnsureGuildSettings(ctx, guildID)
	if err != nil {
		return err
	}
	settings.ModmailEnabled = enabled
	settings.Settings.Modmail.Enabled = &enabled
	return s.UpsertGuildSettings(ctx, settings)
}

func (s *Store) ListGuildSettings(ctx context.Context) ([]GuildSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id FROM guild_settings ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var all []GuildSettings
	for _, id := range ids {
		settings, err := s.GetGuildSettings(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, settings)
	}
	return all, nil
}

// ResetGuildSettings drops every guild record. Thread records are kept; they
// reference guilds that may be reconfigured later.
func (s *Store) ResetGuildSettings(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM guild_settings`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	return string(data), err
}

func marshalMap(values map[string]string) (string, error) {
	if values == nil {
		values = map[string]string{}
	}
	data, err := json.Marshal(values)
	return string(data), err
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
