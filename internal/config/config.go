package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required")

const maxImportWorkers = 10

// Config holds all configuration values.
type Config struct {
	DatabaseURL string
	Port        string

	NATSURL string

	ImportBatchSize     int
	ImportCheckInterval time.Duration
	ImportWorkers       int
	ImportMaxDeliver    int
	ImportStaleAfter    time.Duration
	ReaperInterval      time.Duration
	ImportBaseDir       string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxLease        time.Duration

	PortabilityBaseURL string
	GoogleClientID     string
	GoogleClientSecret string
	IdentityURL        string

	LogFile  string
	LogLevel slog.Level

	TelemetryEnabled bool
}

func defaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
	v.SetDefault("IMPORT_BATCH_SIZE", 50)
	v.SetDefault("IMPORT_CHECK_INTERVAL", "1m")
	v.SetDefault("IMPORT_WORKERS", 4)
	v.SetDefault("IMPORT_MAX_DELIVER", 5)
	v.SetDefault("IMPORT_STALE_AFTER", "24h")
	v.SetDefault("IMPORT_REAPER_INTERVAL", "5m")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "500ms")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("OUTBOX_LEASE", "30s")
	v.SetDefault("PORTABILITY_BASE_URL", "https://dataportability.googleapis.com/v1")
	v.SetDefault("IDENTITY_URL", "http://127.0.0.1:8081")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("TELEMETRY_ENABLED", false)
}

// Load reads configuration from the environment and, when configFile is set,
// from that file. Environment variables win over the file.
func Load(configFile string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		DatabaseURL: v.GetString("DATABASE_URL"),
		Port:        v.GetString("PORT"),

		NATSURL: v.GetString("NATS_URL"),

		ImportBatchSize:     v.GetInt("IMPORT_BATCH_SIZE"),
		ImportCheckInterval: v.GetDuration("IMPORT_CHECK_INTERVAL"),
		ImportWorkers:       clampWorkers(v.GetInt("IMPORT_WORKERS")),
		ImportMaxDeliver:    v.GetInt("IMPORT_MAX_DELIVER"),
		ImportStaleAfter:    v.GetDuration("IMPORT_STALE_AFTER"),
		ReaperInterval:      v.GetDuration("IMPORT_REAPER_INTERVAL"),
		ImportBaseDir:       v.GetString("IMPORT_BASE_DIR"),

		OutboxPollInterval: v.GetDuration("OUTBOX_POLL_INTERVAL"),
		OutboxBatchSize:    v.GetInt("OUTBOX_BATCH_SIZE"),
		OutboxLease:        v.GetDuration("OUTBOX_LEASE"),

		PortabilityBaseURL: v.GetString("PORTABILITY_BASE_URL"),
		GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		IdentityURL:        v.GetString("IDENTITY_URL"),

		LogFile:  v.GetString("LOG_FILE"),
		LogLevel: parseLogLevel(v.GetString("LOG_LEVEL")),

		TelemetryEnabled: v.GetBool("TELEMETRY_ENABLED"),
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, ErrDatabaseURLRequired
	}
	return cfg, nil
}

// UsesPostgres reports whether DatabaseURL points at Postgres rather than a
// sqlite file.
func (c Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func clampWorkers(workers int) int {
	if workers <= 0 {
		return 4
	}
	return min(workers, maxImportWorkers)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
