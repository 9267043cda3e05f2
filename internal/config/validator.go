package config

import (
	"fmt"
)

// Validate checks that every limit and interval the core depends on is
// positive. A violation here is fatal at startup by design: a store or
// limiter constructed with a zero limit would reject everything (or
// nothing) in ways that only surface on first use.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", cfg.Server.Port)
	}

	if cfg.Session.MaxSessionsTotal <= 0 {
		return fmt.Errorf("session.max_sessions_total must be positive, got %d", cfg.Session.MaxSessionsTotal)
	}
	if cfg.Session.MaxSessionsPerIdentity <= 0 {
		return fmt.Errorf("session.max_sessions_per_ip must be positive, got %d", cfg.Session.MaxSessionsPerIdentity)
	}
	if cfg.Session.MaxSessionsPerIdentity > cfg.Session.MaxSessionsTotal {
		return fmt.Errorf("session.max_sessions_per_ip (%d) cannot exceed session.max_sessions_total (%d)",
			cfg.Session.MaxSessionsPerIdentity, cfg.Session.MaxSessionsTotal)
	}
	if cfg.Session.MaxMessagesPerSession <= 0 {
		return fmt.Errorf("session.max_messages_per_session must be positive, got %d", cfg.Session.MaxMessagesPerSession)
	}
	if cfg.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session.ttl_seconds must be positive, got %d", cfg.Session.TTLSeconds)
	}

	if cfg.RateLimit.Count <= 0 {
		return fmt.Errorf("rate_limit.count must be positive, got %d", cfg.RateLimit.Count)
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive, got %d", cfg.RateLimit.WindowSeconds)
	}

	if cfg.Reclaim.IntervalSeconds <= 0 {
		return fmt.Errorf("reclaim.interval_seconds must be positive, got %d", cfg.Reclaim.IntervalSeconds)
	}

	return nil
}
