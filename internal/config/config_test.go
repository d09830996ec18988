package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharlesOkeke1/AirValora/internal/edge"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Ticker.Interval)
	assert.Equal(t, time.Minute, cfg.Mover.Interval)
	assert.Equal(t, 10*time.Second, cfg.Ticker.Linger)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Listen())
	assert.Equal(t, "avflight.db", cfg.Store.SQLiteDSN())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "avflight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  port: 9090
store:
  backend: sqlite
  dsn: /tmp/av.db
ticker:
  interval: 2s
  linger: 5s
seat_capacity:
  A320: 180
log:
  level: debug
`), 0o600))

	t.Setenv("AVF_HTTP_PORT", "7070")
	t.Setenv("AVF_MOVER_INTERVAL", "5m")
	t.Setenv("AVF_REDIS_DB", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTP.Port, "env beats file")
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/av.db", cfg.Store.SQLiteDSN())
	assert.Equal(t, 2*time.Second, cfg.Ticker.Interval)
	assert.Equal(t, 5*time.Second, cfg.Ticker.Linger)
	assert.Equal(t, time.Minute, cfg.Ticker.Refresh, "untouched default survives")
	assert.Equal(t, 5*time.Minute, cfg.Mover.Interval)
	assert.Equal(t, 0, cfg.Store.RedisDB, "unparseable env ignored")
	assert.Equal(t, 180, cfg.SeatCapacity["A320"])
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Store.Backend = "mongo" }},
		{"postgres dsn", func(c *Config) { c.Store.Backend = "postgres" }},
		{"tick interval", func(c *Config) { c.Ticker.Interval = 0 }},
		{"mover interval", func(c *Config) { c.Mover.Interval = -time.Second }},
		{"linger", func(c *Config) { c.Ticker.Linger = -1 }},
		{"port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("AVF_STORE_BACKEND", "redis")
	t.Setenv("AVF_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--store=sqlite", "--no-mover", "--tick-interval=500ms"}))

	cfg, err := FromFlags(fs)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "warn", cfg.Log.Level, "env kept when flag not set")
	assert.False(t, cfg.Mover.Enabled)
	assert.True(t, cfg.Ticker.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Ticker.Interval)
}

func TestFromFlagsRejectsInvalid(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--store=cassandra"}))

	_, err := FromFlags(fs)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)
	log.Info("hidden")
	log.Warn("shown", "flight", "AV1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"flight":"AV1"`)
}

func TestRuntimePreset(t *testing.T) {
	t.Setenv("AVF_MEMORY_MODE", "aggressive")
	t.Setenv("AVF_SOFT_LIMIT_MB", "150")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, edge.MemoryModeAggressive, cfg.Runtime.MemoryMode)
	assert.Equal(t, 256, cfg.Runtime.MemoryLimitMB)
	assert.Equal(t, 150, cfg.Runtime.SoftLimitMB)
	assert.NoError(t, cfg.Validate())

	cfg.Runtime.SoftLimitMB = 300
	assert.ErrorContains(t, cfg.Validate(), "soft_limit_mb")
}
