package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiamondLightSource/odinmirror/errors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 200*time.Millisecond, cfg.Cache.UpdatePeriod.Std())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"host": "bl01-odin", "port": 8888, "label": "bl01"},
		"cache": {"update_period": "500ms"},
		"http": {"listen": ":9090"}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bl01-odin", cfg.Server.Host)
	assert.Equal(t, "bl01", cfg.Server.Label)
	assert.Equal(t, 500*time.Millisecond, cfg.Cache.UpdatePeriod.Std())
	assert.Equal(t, ":9090", cfg.HTTP.Listen)
	// Fields absent from the file keep their defaults
	assert.Equal(t, "api/0.1", cfg.Server.APIPrefix)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ODINMIRROR_SERVER_HOST", "other-odin")
	t.Setenv("ODINMIRROR_SERVER_PORT", "9999")
	t.Setenv("ODINMIRROR_UPDATE_PERIOD", "1s")
	t.Setenv("ODINMIRROR_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "other-odin", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Cache.UpdatePeriod.Std())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty host", func(c *Config) { c.Server.Host = "" }},
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"empty api prefix", func(c *Config) { c.Server.APIPrefix = "" }},
		{"empty label", func(c *Config) { c.Server.Label = "" }},
		{"zero update period", func(c *Config) { c.Cache.UpdatePeriod = 0 }},
		{"zero timer window", func(c *Config) { c.Cache.TimerWindow = 0 }},
		{"empty listen", func(c *Config) { c.HTTP.Listen = "" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(250 * time.Millisecond)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"250ms"`, string(data))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalJSON(data))
	assert.Equal(t, d, parsed)
}
