package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without a token")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IdleCloseHours != 72 {
		t.Fatalf("expected default idle close 72, got %d", cfg.IdleCloseHours)
	}
	if cfg.RouteWindowMinutes != 60 {
		t.Fatalf("expected default route window 60, got %d", cfg.RouteWindowMinutes)
	}
	if cfg.SweepCron != "@hourly" {
		t.Fatalf("expected default sweep cron, got %q", cfg.SweepCron)
	}
	if cfg.EmbedColors.Inbound != 0x5865F2 {
		t.Fatalf("unexpected inbound color %#x", cfg.EmbedColors.Inbound)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("log_level: debug\nidle_close_hours: 48\nroute_window_minutes: 30\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DISCORD_TOKEN", "token123")
	t.Setenv("IDLE_CLOSE_HOURS", "24")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from file, got %q", cfg.LogLevel)
	}
	if cfg.RouteWindowMinutes != 30 {
		t.Fatalf("expected route window from file, got %d", cfg.RouteWindowMinutes)
	}
	if cfg.IdleCloseHours != 24 {
		t.Fatalf("env should override the file, got %d", cfg.IdleCloseHours)
	}
}

func TestLoadClampsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token123")
	t.Setenv("IDLE_CLOSE_HOURS", "-5")
	t.Setenv("ROUTE_WINDOW_MINUTES", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.IdleCloseHours != 72 {
		t.Fatalf("negative idle close should fall back to default, got %d", cfg.IdleCloseHours)
	}
	if cfg.RouteWindowMinutes != 0 {
		t.Fatalf("negative route window should clamp to 0, got %d", cfg.RouteWindowMinutes)
	}
}

func TestBuildLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus", ""} {
		logger, err := BuildLogger(level)
		if err != nil {
			t.Fatalf("build logger %q: %v", level, err)
		}
		_ = logger.Sync()
	}
}
