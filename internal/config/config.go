package config

import (
	"time"
)

// Config represents the main Reserva configuration. It is read once at
// startup and handed to components at construction; the core never
// re-reads ambient global state.
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Session store limits
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Rate limiter
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`

	// Reclaimer
	Reclaim ReclaimConfig `json:"reclaim" mapstructure:"reclaim"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP gateway settings.
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// SessionConfig holds session store limits.
type SessionConfig struct {
	MaxSessionsTotal       int `json:"max_sessions_total" mapstructure:"max_sessions_total"`
	MaxSessionsPerIdentity int `json:"max_sessions_per_ip" mapstructure:"max_sessions_per_ip"`
	MaxMessagesPerSession  int `json:"max_messages_per_session" mapstructure:"max_messages_per_session"`
	TTLSeconds             int `json:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// TTL returns the session time-to-live as a duration.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RateLimitConfig holds fixed-window limiter settings.
type RateLimitConfig struct {
	Count         int `json:"count" mapstructure:"count"`
	WindowSeconds int `json:"window_seconds" mapstructure:"window_seconds"`
}

// Window returns the rate-limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// ReclaimConfig holds reclaimer scheduling settings.
type ReclaimConfig struct {
	IntervalSeconds int `json:"interval_seconds" mapstructure:"interval_seconds"`
}

// Interval returns the reclaim interval as a duration.
func (c ReclaimConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Session: SessionConfig{
			MaxSessionsTotal:       1000,
			MaxSessionsPerIdentity: 5,
			MaxMessagesPerSession:  100,
			TTLSeconds:             24 * 60 * 60,
		},
		RateLimit: RateLimitConfig{
			Count:         20,
			WindowSeconds: 60,
		},
		Reclaim: ReclaimConfig{
			IntervalSeconds: 60 * 60,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}
