package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, 100, cfg.HistorySize)
	assert.Equal(t, OverflowDropOldest, cfg.OverflowPolicy)
	assert.Equal(t, 2*time.Second, cfg.ShutdownDrain)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, float64(50), cfg.FrameRate)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PUBSUB_PORT", "9090")
	t.Setenv("PUBSUB_MAX_QUEUE_SIZE", "3")
	t.Setenv("PUBSUB_OVERFLOW_POLICY", "disconnect")
	t.Setenv("PUBSUB_LOG_LEVEL", "debug")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.MaxQueueSize)
	assert.Equal(t, OverflowDisconnect, cfg.OverflowPolicy)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Host:           "0.0.0.0",
			Port:           8080,
			MaxQueueSize:   100,
			HistorySize:    100,
			OverflowPolicy: OverflowDropOldest,
			ShutdownDrain:  2 * time.Second,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			FrameRate:      50,
			FrameBurst:     100,
			LogLevel:       "info",
			LogFormat:      "json",
		}
	}

	assert.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Port = 0 }},
		{"port too high", func(c *Config) { c.Port = 70000 }},
		{"zero queue size", func(c *Config) { c.MaxQueueSize = 0 }},
		{"zero history size", func(c *Config) { c.HistorySize = 0 }},
		{"negative drain", func(c *Config) { c.ShutdownDrain = -time.Second }},
		{"negative rate", func(c *Config) { c.FrameRate = -1 }},
		{"zero burst with rate", func(c *Config) { c.FrameBurst = 0 }},
		{"unknown overflow policy", func(c *Config) { c.OverflowPolicy = "drop_newest" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := &Config{
		Host:           "0.0.0.0",
		Port:           8080,
		MaxQueueSize:   10,
		HistorySize:    10,
		OverflowPolicy: OverflowDropOldest,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		FrameRate:      0,
		FrameBurst:     0,
		LogLevel:       "info",
		LogFormat:      "json",
	}
	assert.NoError(t, cfg.Validate())
}
