package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggerd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profile: work
log_level: debug
nats_url: nats://localhost:4222
default_poll_interval: 500ms
`), 0o644))

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.Equal(t, "work", cfg.Profile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500*time.Millisecond, cfg.DefaultPollInterval)
	assert.Equal(t, 4, cfg.MaxParallel, "unset fields keep their defaults")
	assert.True(t, cfg.WatchProfile)
}

func TestLoadConfigMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := LoadConfig(missing, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = LoadConfig(missing, true)
	assert.Error(t, err)
}
