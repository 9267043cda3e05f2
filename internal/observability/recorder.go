package observability

import (
	"github.com/rs/zerolog"
)

// Recorder translates store and reclaimer events into prometheus metrics
// and structured log lines. It satisfies the store's EventRecorder
// interface and records only counts, identifiers, and error kinds.
type Recorder struct {
	logger zerolog.Logger
}

// NewRecorder creates a recorder writing through the given logger.
func NewRecorder(logger zerolog.Logger) *Recorder {
	EnsureRegistered()
	return &Recorder{logger: logger}
}

// RecordEvent routes a named event to its metric.
func (r *Recorder) RecordEvent(name string, attrs map[string]interface{}) {
	m := getMetrics()

	switch name {
	case "session.created":
		m.sessionsCreatedTotal.Inc()
		if active, ok := attrs["active"].(int); ok {
			m.activeSessions.Set(float64(active))
		}
	case "sessions.reclaimed":
		count, _ := attrs["count"].(int)
		m.sessionsReclaimedTotal.Add(float64(count))
		if active, ok := attrs["active"].(int); ok {
			m.activeSessions.Set(float64(active))
		}
		r.logger.Debug().Int("count", count).Msg("Reclaim sweep recorded")
	case "reclaim.failed":
		m.reclaimFailuresTotal.Inc()
		errKind, _ := attrs["error"].(string)
		r.logger.Warn().Str("error", errKind).Msg("Reclaim sweep failure recorded")
	case "admission.rejected":
		reason, _ := attrs["reason"].(string)
		m.admissionRejectedTotal.WithLabelValues(reason).Inc()
	default:
		r.logger.Debug().Str("event", name).Msg("Unrecognized event recorded")
	}
}
