package config

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, "default", cfg.Partition.Mode)
	assert.Equal(t, 0.25, cfg.Partition.DensityThreshold)
	assert.False(t, cfg.Transfers.Enabled)
	assert.Equal(t, 1.33, cfg.Transfers.WalkSpeed)
	assert.Equal(t, 500.0, cfg.Transfers.MaxDistance)
	assert.Equal(t, 3600, cfg.Validation.ExtremeTransferSeconds)
	assert.True(t, cfg.Validation.PostCheck)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("RAPTORC_WALK_SPEED=1.1\nRAPTORC_MAX_DISTANCE=300\nRAPTORC_WORKERS=2\n"), 0o644))
	t.Cleanup(func() {
		// godotenv writes straight into the process environment
		os.Unsetenv("RAPTORC_WALK_SPEED")
		os.Unsetenv("RAPTORC_WORKERS")
	})
	t.Setenv("RAPTORC_MAX_DISTANCE", "400")
	t.Setenv("RAPTORC_LOG_LEVEL", "debug")

	path := filepath.Join(dir, "raptorc.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
partition:
  mode: fixed-4
transfers:
  enabled: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-workers", "4"}))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1.1, cfg.Transfers.WalkSpeed, ".env")
	assert.Equal(t, 400.0, cfg.Transfers.MaxDistance, "environment beats .env")
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "fixed-4", cfg.Partition.Mode, "yaml")
	assert.True(t, cfg.Transfers.Enabled)
	assert.Equal(t, 4, cfg.Workers, "flags beat yaml")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"unknown mode", func(c *Config) { c.Partition.Mode = "lyon" }, true},
		{"zero walk speed", func(c *Config) { c.Transfers.WalkSpeed = 0 }, true},
		{"negative distance", func(c *Config) { c.Transfers.MaxDistance = -1 }, true},
		{"zero distance", func(c *Config) { c.Transfers.MaxDistance = 0 }, false},
		{"threshold above one", func(c *Config) { c.Partition.DensityThreshold = 1.5 }, true},
		{"no workers", func(c *Config) { c.Workers = 0 }, true},
		{"no output", func(c *Config) { c.Output = "" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
