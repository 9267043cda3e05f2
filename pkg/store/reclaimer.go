package store

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reclaimer periodically sweeps expired sessions out of a Store. It is
// inert until Start is called by the owning runtime and supports
// cooperative shutdown: Stop schedules no further runs and waits for an
// in-flight run to finish.
type Reclaimer struct {
	store    *Store
	interval time.Duration
	events   EventRecorder
	cron     *cron.Cron
}

// NewReclaimer creates a reclaimer. It does not start any background work.
func NewReclaimer(st *Store, interval time.Duration, events EventRecorder) (*Reclaimer, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("%w: reclaim interval must be positive", ErrInvalidConfig)
	}
	if events == nil {
		events = noopRecorder{}
	}

	return &Reclaimer{
		store:    st,
		interval: interval,
		events:   events,
	}, nil
}

// Start schedules the periodic sweep. A slow run is skipped rather than
// stacked, and a failing run never reaches the host process.
func (r *Reclaimer) Start() error {
	if r.cron != nil {
		return fmt.Errorf("reclaimer is already running")
	}

	cl := cronLogger{logger: log.Logger}
	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cl)))

	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), r.run); err != nil {
		r.cron = nil
		return fmt.Errorf("failed to schedule reclaimer: %w", err)
	}
	r.cron.Start()

	log.Info().Dur("interval", r.interval).Msg("Session reclaimer started")
	return nil
}

// Stop cancels future runs and waits for any in-flight sweep.
func (r *Reclaimer) Stop() error {
	if r.cron == nil {
		return fmt.Errorf("reclaimer is not running")
	}

	<-r.cron.Stop().Done()
	r.cron = nil

	log.Info().Msg("Session reclaimer stopped")
	return nil
}

// IsRunning reports whether sweeps are scheduled.
func (r *Reclaimer) IsRunning() bool {
	return r.cron != nil
}

// run executes one sweep, containing any failure locally so request
// handling is never affected.
func (r *Reclaimer) run() {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Session sweep failed")
			r.events.RecordEvent("reclaim.failed", map[string]interface{}{
				"error": fmt.Sprint(p),
			})
		}
	}()

	removed := r.sweep(time.Now())
	if removed > 0 {
		log.Info().Int("reclaimed", removed).Msg("Expired sessions reclaimed")
	}
}

// sweep scans for expired ids outside the write lock, removes them under
// it, and reports the count reclaimed.
func (r *Reclaimer) sweep(now time.Time) int {
	ids := r.store.ExpiredIDs(now)
	removed := r.store.RemoveExpired(ids, now)

	r.events.RecordEvent("sessions.reclaimed", map[string]interface{}{
		"count":  removed,
		"active": r.store.Len(),
	})

	return removed
}

// cronLogger adapts zerolog to the cron scheduler's logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
