package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"zero total", func(c *Config) { c.Session.MaxSessionsTotal = 0 }, "max_sessions_total"},
		{"negative per identity", func(c *Config) { c.Session.MaxSessionsPerIdentity = -1 }, "max_sessions_per_ip"},
		{"per identity over total", func(c *Config) {
			c.Session.MaxSessionsTotal = 2
			c.Session.MaxSessionsPerIdentity = 3
		}, "cannot exceed"},
		{"zero messages", func(c *Config) { c.Session.MaxMessagesPerSession = 0 }, "max_messages_per_session"},
		{"zero ttl", func(c *Config) { c.Session.TTLSeconds = 0 }, "ttl_seconds"},
		{"zero rate count", func(c *Config) { c.RateLimit.Count = 0 }, "rate_limit.count"},
		{"zero rate window", func(c *Config) { c.RateLimit.WindowSeconds = 0 }, "window_seconds"},
		{"zero reclaim interval", func(c *Config) { c.Reclaim.IntervalSeconds = 0 }, "interval_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
