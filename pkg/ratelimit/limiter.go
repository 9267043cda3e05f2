// Package ratelimit throttles requests per client identity using fixed,
// non-overlapping time windows. It is the first admission gate: a denial
// here must short-circuit before any session state is touched.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInvalidConfig is returned by New when the limit or window is not
// positive.
var ErrInvalidConfig = errors.New("invalid rate limiter configuration")

// Decision is the outcome of an Allow call. On denial RetryAfter carries
// the time until the current window resets.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type window struct {
	count   int
	startAt time.Time
}

// Limiter counts requests per identity in fixed windows. The counter map
// is bounded the same way the session store is: windows reset lazily on
// next access, and a janitor evicts counters idle beyond one window.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*window

	janitorInterval time.Duration
	stopJanitor     chan struct{}
	janitorWG       sync.WaitGroup
}

// New creates a limiter allowing limit requests per window per identity.
func New(limit int, windowDur time.Duration) (*Limiter, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidConfig)
	}
	if windowDur <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	}

	return &Limiter{
		limit:           limit,
		window:          windowDur,
		windows:         make(map[string]*window),
		janitorInterval: windowDur,
	}, nil
}

// Allow records one request for identity and reports whether it is under
// the limit. The increment-and-compare runs as one critical section so two
// concurrent requests cannot both slip past the threshold.
func (l *Limiter) Allow(identity string) Decision {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identity]
	if !ok || now.Sub(w.startAt) >= l.window {
		l.windows[identity] = &window{count: 1, startAt: now}
		return Decision{Allowed: true, Remaining: l.limit - 1}
	}

	if w.count < l.limit {
		w.count++
		return Decision{Allowed: true, Remaining: l.limit - w.count}
	}

	retryAfter := w.startAt.Add(l.window).Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}
}

// StartJanitor begins periodic eviction of counters whose window has long
// elapsed. It must be called by the owning runtime after startup; the
// limiter schedules nothing on its own.
func (l *Limiter) StartJanitor() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopJanitor != nil {
		return fmt.Errorf("janitor is already running")
	}

	l.stopJanitor = make(chan struct{})
	l.janitorWG.Add(1)
	go l.runJanitor(l.stopJanitor)

	log.Info().Dur("interval", l.janitorInterval).Msg("Rate limiter janitor started")
	return nil
}

// StopJanitor stops the eviction loop and waits for it to exit.
func (l *Limiter) StopJanitor() error {
	l.mu.Lock()
	if l.stopJanitor == nil {
		l.mu.Unlock()
		return fmt.Errorf("janitor is not running")
	}
	stop := l.stopJanitor
	l.stopJanitor = nil
	l.mu.Unlock()

	close(stop)
	l.janitorWG.Wait()

	log.Info().Msg("Rate limiter janitor stopped")
	return nil
}

func (l *Limiter) runJanitor(stop <-chan struct{}) {
	defer l.janitorWG.Done()

	ticker := time.NewTicker(l.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictIdle(time.Now())
		case <-stop:
			return
		}
	}
}

// evictIdle removes counters whose window elapsed before now.
func (l *Limiter) evictIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for identity, w := range l.windows {
		if now.Sub(w.startAt) >= l.window {
			delete(l.windows, identity)
			evicted++
		}
	}
	return evicted
}

// Size returns the number of tracked identities.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
