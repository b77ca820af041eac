package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/internal/domain/action"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.ServerAddress)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL())
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 2, cfg.Sync.Workers)
	assert.Equal(t, 5*time.Second, cfg.Sync.DuplicateWindow)
	assert.Equal(t, 5, cfg.Sync.MaxAttempts[action.KindQuizAttempt])
	assert.Equal(t, 3, cfg.Sync.MaxAttempts[action.KindCourseProgress])
	assert.Equal(t, 3, cfg.Network.StableReadings)
	assert.Equal(t, 1500*time.Millisecond, cfg.Network.SlowThreshold)
	assert.Equal(t, filepath.Join(dir, "studysync.db"), cfg.DataPath)
	assert.True(t, cfg.IsLocal())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("SERVER_ADDRESS", "learn.example.com")
	t.Setenv("ENABLE_TLS", "true")
	t.Setenv("SYNC_DUPLICATE_WINDOW", "10s")
	t.Setenv("SYNC_MAX_ATTEMPTS_LESSON_COMPLETION", "7")
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://learn.example.com", cfg.BaseURL())
	assert.Equal(t, 10*time.Second, cfg.Sync.DuplicateWindow)
	assert.Equal(t, 7, cfg.Sync.MaxAttempts[action.KindLessonCompletion])
	assert.True(t, cfg.IsProd())
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CONFIG_DIR", t.TempDir())
	t.Setenv("SYNC_WORKERS", "0")

	_, err := Load()
	assert.Error(t, err)
}
