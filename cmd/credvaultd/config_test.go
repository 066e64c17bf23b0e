package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := loadConfig()

	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Production)
	assert.Equal(t, "*/15 * * * *", cfg.SweepSchedule)
	assert.Contains(t, cfg.DBPath, ".credvault")
}

func TestLoadConfigSettingsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".credvault")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	settings := `{"listen_addr":":9999","log_level":"debug","production":true}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o600))

	cfg := loadConfig()

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Production)
}

func TestLoadConfigEnvOverridesSettings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".credvault")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	settings := `{"listen_addr":":9999"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o600))

	t.Setenv("CREDVAULT_LISTEN_ADDR", ":4321")
	t.Setenv("CREDVAULT_PBKDF2_ITERATIONS", "50000")
	t.Setenv("CREDVAULT_APP_SECRET", "from-env")

	cfg := loadConfig()

	assert.Equal(t, ":4321", cfg.ListenAddr)
	assert.Equal(t, 50000, cfg.Iterations)
	assert.Equal(t, "from-env", cfg.AppSecret)
}

func TestSecretsNeverReadFromSettings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".credvault")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	settings := `{"AppSecret":"leaked","FallbackToken":"leaked"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(settings), 0o600))

	t.Setenv("CREDVAULT_APP_SECRET", "")
	t.Setenv("CREDVAULT_FALLBACK_TOKEN", "")

	cfg := loadConfig()

	assert.Empty(t, cfg.AppSecret)
	assert.Empty(t, cfg.FallbackToken)
}
