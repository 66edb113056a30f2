package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 50, cfg.Engine.HistoryCapacity)
	assert.Equal(t, 5, cfg.Engine.MaxKeyPoints)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", ":9090")
	t.Setenv("HISTORY_CAPACITY", "10")
	t.Setenv("ENABLE_METRICS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 10, cfg.Engine.HistoryCapacity)
	assert.False(t, cfg.Features.EnableMetrics)
}

func TestLoad_FileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("engine:\n  historyCapacity: 25\n  maxKeyPoints: 3\nlogging:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("LOOM_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Engine.HistoryCapacity)
	assert.Equal(t, 3, cfg.Engine.MaxKeyPoints)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched values keep their defaults.
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  historyCapacity: 25\n"), 0o644))

	t.Setenv("LOOM_CONFIG_FILE", path)
	t.Setenv("HISTORY_CAPACITY", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Engine.HistoryCapacity)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults pass", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero history capacity", mutate: func(c *Config) { c.Engine.HistoryCapacity = 0 }, wantErr: true},
		{name: "zero key points", mutate: func(c *Config) { c.Engine.MaxKeyPoints = 0 }, wantErr: true},
		{name: "empty address", mutate: func(c *Config) { c.Server.Address = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: ["), 0o644))

	t.Setenv("LOOM_CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}
