package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultCountdownSeconds, cfg.Removal.CountdownSeconds)
	assert.Equal(t, 20*time.Second, cfg.API.TimeoutDuration())
}

func TestLoadTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[api]
base_url = "http://chat.example:8080"

[removal]
countdown_seconds = 30
degrade_fraction = 0.25
tick_interval = "2s"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://chat.example:8080", cfg.API.BaseURL)
	assert.Equal(t, 30, cfg.Removal.CountdownSeconds)
	assert.InDelta(t, 0.25, cfg.Removal.DegradeFraction, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Removal.TickDuration())
	assert.Equal(t, DefaultSocketURL, cfg.Socket.URL)
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "socket:\n  url: ws://push.example:9000\nsession:\n  history_page_size: 20\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://push.example:9000", cfg.Socket.URL)
	assert.Equal(t, 20, cfg.Session.HistoryPageSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[removal]\ndegrade_fraction = 1.5\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDurationFallbacks(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, RemovalConfig{TickInterval: "nonsense"}.TickDuration())
	assert.Equal(t, 3*time.Second, SessionConfig{}.ReconnectDuration())
}

func TestExampleConfigLoads(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	assert.Equal(t, "change-me", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.ExpiresIn())
	assert.Equal(t, DefaultDevServerAddr, cfg.DevServer.Addr)
	assert.Equal(t, Default().Removal, cfg.Removal)
}
