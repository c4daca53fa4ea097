package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken       string       `yaml:"discord_token"`
	AppID              string       `yaml:"app_id"`
	DatabasePath       string       `yaml:"database_path"`
	LogLevel           string       `yaml:"log_level"`
	SupportGuildID     string       `yaml:"support_guild_id"`
	ReplyCooldownSecs  int          `yaml:"reply_cooldown_seconds"`
	IdleCloseHours     int          `yaml:"idle_close_hours"`
	IdleWarnHours      int          `yaml:"idle_warn_hours"`
	RouteWindowMinutes int          `yaml:"route_window_minutes"`
	DeleteGraceSeconds int          `yaml:"delete_grace_seconds"`
	SweepCron          string       `yaml:"sweep_cron"`
	AuditCron          string       `yaml:"audit_cron"`
	Health             HealthConfig `yaml:"health"`
	EmbedColors        EmbedColors  `yaml:"embed_colors"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type EmbedColors struct {
	Inbound int `yaml:"inbound"`
	Staff   int `yaml:"staff"`
	Notice  int `yaml:"notice"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:       "/data/mailroom.db",
		LogLevel:           "info",
		ReplyCooldownSecs:  5,
		IdleCloseHours:     72,
		IdleWarnHours:      12,
		RouteWindowMinutes: 60,
		DeleteGraceSeconds: 30,
		SweepCron:          "@hourly",
		AuditCron:          "@every 6h",
		Health:             HealthConfig{Enabled: false, Addr: ":8080"},
		EmbedColors: EmbedColors{
			Inbound: 0x5865F2,
			Staff:   0x57F287,
			Notice:  0xFEE75C,
			Error:   0xED4245,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.IdleCloseHours <= 0 {
		cfg.IdleCloseHours = 72
	}
	if cfg.RouteWindowMinutes < 0 {
		cfg.RouteWindowMinutes = 0
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.AppID = envString("APP_ID", cfg.AppID)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.SupportGuildID = envString("SUPPORT_GUILD_ID", cfg.SupportGuildID)
	cfg.ReplyCooldownSecs = envInt("REPLY_COOLDOWN_SECONDS", cfg.ReplyCooldownSecs)
	cfg.IdleCloseHours = envInt("IDLE_CLOSE_HOURS", cfg.IdleCloseHours)
	cfg.IdleWarnHours = envInt("IDLE_WARN_HOURS", cfg.IdleWarnHours)
	cfg.RouteWindowMinutes = envInt("ROUTE_WINDOW_MINUTES", cfg.RouteWindowMinutes)
	cfg.DeleteGraceSeconds = envInt("DELETE_GRACE_SECONDS", cfg.DeleteGraceSeconds)
	cfg.SweepCron = envString("SWEEP_CRON", cfg.SweepCron)
	cfg.AuditCron = envString("AUDIT_CRON", cfg.AuditCron)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.EmbedColors.Inbound = envInt("EMBED_COLOR_INBOUND", cfg.EmbedColors.Inbound)
	cfg.EmbedColors.Staff = envInt("EMBED_COLOR_STAFF", cfg.EmbedColors.Staff)
	cfg.EmbedColors.Notice = envInt("EMBED_COLOR_NOTICE", cfg.EmbedColors.Notice)
	cfg.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.EmbedColors.Error)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
