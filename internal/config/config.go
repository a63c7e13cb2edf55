package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the snapshot workers.
type Config struct {
	// DBHost, DBName, DBUser, DBPassword and DBPort identify the Postgres
	// instance holding accounts, posts, snapshots and run logs.
	DBHost     string
	DBName     string
	DBUser     string
	DBPassword string
	DBPort     int

	// MaxWorkers bounds how many accounts are processed concurrently.
	MaxWorkers int

	// TimeRangeDays is the recency window for incremental post syncs and the
	// activity-filtered account query.
	TimeRangeDays int

	// BlueskyBaseURL is the public BlueSky API base URL.
	BlueskyBaseURL string

	// FirehoseURL is the Jetstream WebSocket endpoint used by the activity
	// recorder.
	FirehoseURL string

	// HealthPort is the HTTP port for the activity recorder's health server.
	HealthPort int

	// LogLevel controls log verbosity (DEBUG, INFO, WARN, ERROR).
	LogLevel string
}

// Load reads configuration from environment variables. If envFile is
// non-empty, that file is loaded first and overrides the current environment;
// otherwise a .env file in the working directory is loaded if present.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Overload(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Optional; ignore a missing .env.
		_ = godotenv.Load()
	}

	var missing []string
	for _, key := range []string{"DB_HOST", "DB_NAME", "DB_USER", "DB_PASSWORD"} {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		DBHost:         os.Getenv("DB_HOST"),
		DBName:         os.Getenv("DB_NAME"),
		DBUser:         os.Getenv("DB_USER"),
		DBPassword:     os.Getenv("DB_PASSWORD"),
		DBPort:         5432,
		MaxWorkers:     10,
		TimeRangeDays:  7,
		BlueskyBaseURL: envOrDefault("BLUESKY_BASE_URL", "https://public.api.bsky.app"),
		FirehoseURL:    envOrDefault("FIREHOSE_URL", "wss://jetstream1.us-east.bsky.network/subscribe"),
		HealthPort:     3000,
		LogLevel:       envOrDefault("LOG_LEVEL", "INFO"),
	}

	var err error
	if cfg.DBPort, err = envOrDefaultInt("DB_PORT", cfg.DBPort); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers, err = envOrDefaultInt("MAX_WORKERS", cfg.MaxWorkers); err != nil {
		return nil, err
	}
	if cfg.TimeRangeDays, err = envOrDefaultInt("TIME_RANGE_DAYS", cfg.TimeRangeDays); err != nil {
		return nil, err
	}
	if cfg.HealthPort, err = envOrDefaultInt("HEALTH_PORT", cfg.HealthPort); err != nil {
		return nil, err
	}

	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("MAX_WORKERS must be at least 1, got %d", cfg.MaxWorkers)
	}
	if cfg.TimeRangeDays < 1 {
		return nil, fmt.Errorf("TIME_RANGE_DAYS must be at least 1, got %d", cfg.TimeRangeDays)
	}

	return cfg, nil
}

// ConnString returns the lib/pq connection string for the configured
// database.
func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword,
	)
}

// Window returns the recency window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.TimeRangeDays) * 24 * time.Hour
}

// SlogLevel maps the configured log level to a slog.Level. Unknown values
// fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
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

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
