package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_NAME", "dopplersky")
	t.Setenv("DB_USER", "app")
	t.Setenv("DB_PASSWORD", "secret")
}

func TestLoadMissingRequiredVars(t *testing.T) {
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_NAME", "")
	t.Setenv("DB_USER", "")
	t.Setenv("DB_PASSWORD", "secret")

	_, err := Load("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_NAME")
	assert.Contains(t, err.Error(), "DB_USER")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PORT", "")
	t.Setenv("MAX_WORKERS", "")
	t.Setenv("TIME_RANGE_DAYS", "")
	t.Setenv("BLUESKY_BASE_URL", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, 10, cfg.MaxWorkers)
	assert.Equal(t, 7, cfg.TimeRangeDays)
	assert.Equal(t, "https://public.api.bsky.app", cfg.BlueskyBaseURL)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 3000, cfg.HealthPort)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PORT", "5433")
	t.Setenv("MAX_WORKERS", "4")
	t.Setenv("TIME_RANGE_DAYS", "14")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 5433, cfg.DBPort)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 14, cfg.TimeRangeDays)
	assert.Equal(t, 14*24*60*60, int(cfg.Window().Seconds()))
}

func TestLoadRejectsInvalidInt(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_WORKERS", "many")

	_, err := Load("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_WORKERS")
}

func TestLoadRejectsNonPositiveWorkers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_WORKERS", "0")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingEnvFile(t *testing.T) {
	setRequiredEnv(t)

	_, err := Load("/nonexistent/.env")
	assert.Error(t, err)
}

func TestConnString(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t,
		"host=localhost port=5432 dbname=dopplersky user=app password=secret sslmode=disable",
		cfg.ConnString(),
	)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		assert.Equal(t, tt.want, cfg.SlogLevel(), "level %q", tt.level)
	}
}
