// Package daemon owns construction and lifecycle of the Reserva service:
// session store, rate limiter, reclaimer, config watcher, and the HTTP
// gateway. Background work is started here, after every component is
// fully constructed, and never from a constructor or package init.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/avila/reserva/internal/config"
	"github.com/avila/reserva/internal/logger"
	"github.com/avila/reserva/internal/observability"
	"github.com/avila/reserva/pkg/gateway"
	"github.com/avila/reserva/pkg/ratelimit"
	"github.com/avila/reserva/pkg/store"
)

// Daemon is the long-lived service instance. Handlers reach the store and
// limiter only through the references wired here; there is no process-wide
// mutable state.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	sessions  *store.Store
	limiter   *ratelimit.Limiter
	reclaimer *store.Reclaimer
	gateway   *gateway.Server
	watcher   *config.Watcher

	startTime time.Time
	running   bool
	mu        sync.Mutex
	serverErr chan error
}

// New constructs the daemon and all components. Invalid configuration
// fails here, before any traffic is accepted or goroutine spawned.
func New(cfg *config.Config, log *logger.Logger, loader *config.Loader) (*Daemon, error) {
	observability.EnsureRegistered()
	recorder := observability.NewRecorder(log.GetZerolog())

	sessions, err := store.New(store.Config{
		MaxSessionsTotal:       cfg.Session.MaxSessionsTotal,
		MaxSessionsPerIdentity: cfg.Session.MaxSessionsPerIdentity,
		MaxMessagesPerSession:  cfg.Session.MaxMessagesPerSession,
		TTL:                    cfg.Session.TTL(),
	}, recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	limiter, err := ratelimit.New(cfg.RateLimit.Count, cfg.RateLimit.Window())
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	reclaimer, err := store.NewReclaimer(sessions, cfg.Reclaim.Interval(), recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to create reclaimer: %w", err)
	}

	gw, err := gateway.NewServer(gateway.ServerOptions{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, sessions, limiter, &fallbackResponder{}, log.GetZerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	d := &Daemon{
		config:    cfg,
		logger:    log,
		sessions:  sessions,
		limiter:   limiter,
		reclaimer: reclaimer,
		gateway:   gw,
		serverErr: make(chan error, 1),
	}

	if loader != nil {
		watcher, err := config.NewWatcher(loader, d.applyConfig)
		if err != nil {
			log.Warn().Err(err).Msg("Config watcher unavailable, continuing without live reload")
		} else {
			d.watcher = watcher
		}
	}

	return d, nil
}

// Start brings up background work and the gateway listener.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon is already running")
	}

	if err := d.limiter.StartJanitor(); err != nil {
		return err
	}
	if err := d.reclaimer.Start(); err != nil {
		_ = d.limiter.StopJanitor()
		return err
	}
	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	go func() {
		d.serverErr <- d.gateway.Start()
	}()

	d.startTime = time.Now()
	d.running = true

	d.logger.Info().
		Str("host", d.config.Server.Host).
		Int("port", d.config.Server.Port).
		Msg("Daemon started")

	return nil
}

// Stop shuts everything down in reverse order: stop accepting requests,
// then stop the background units.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return fmt.Errorf("daemon is not running")
	}

	if err := d.gateway.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Gateway shutdown failed")
	}
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher shutdown failed")
		}
	}
	if err := d.reclaimer.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Reclaimer shutdown failed")
	}
	if err := d.limiter.StopJanitor(); err != nil {
		d.logger.Warn().Err(err).Msg("Rate limiter janitor shutdown failed")
	}

	d.running = false
	d.logger.Info().Msg("Daemon stopped")

	return nil
}

// Run starts the daemon and blocks until the context is cancelled, a
// termination signal arrives, or the gateway fails.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-ctx.Done():
	case s := <-sig:
		d.logger.Info().Str("signal", s.String()).Msg("Received termination signal")
	case err := <-d.serverErr:
		if err != nil {
			_ = d.Stop()
			return fmt.Errorf("gateway failed: %w", err)
		}
	}

	return d.Stop()
}

// Uptime reports how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}

// applyConfig handles a config reload. Only live-safe settings are
// applied; capacity limits keep their construction-time values.
func (d *Daemon) applyConfig(cfg *config.Config) {
	if cfg.Logging.Level != d.config.Logging.Level {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to apply new log level")
			return
		}
		d.logger.Info().
			Str("level", cfg.Logging.Level).
			Msg("Log level updated from config reload")
		d.config.Logging.Level = cfg.Logging.Level
	}
}
