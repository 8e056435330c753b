package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 720*time.Hour, cfg.Storage.TrashRetention)
	assert.Equal(t, 5*time.Second, cfg.Storage.LockTimeout)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9001")
	t.Setenv("STORAGE_ROOT", "/data/drive")
	t.Setenv("LOCK_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9001", cfg.Server.Port)
	assert.Equal(t, "/data/drive", cfg.Storage.Root)
	assert.Equal(t, 2*time.Second, cfg.Storage.LockTimeout)
}

func TestLoadFileOverlaysEnv(t *testing.T) {
	t.Setenv("PORT", "9001")

	file := filepath.Join(t.TempDir(), "homedrive.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: \"7070\"\n"), 0o600))

	cfg, err := LoadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
}

func TestLoadFileMissingIsFine(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
