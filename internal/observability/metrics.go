package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions         prometheus.Gauge
	sessionsCreatedTotal   prometheus.Counter
	sessionsReclaimedTotal prometheus.Counter
	reclaimFailuresTotal   prometheus.Counter
	admissionRejectedTotal *prometheus.CounterVec
	rateLimitDeniedTotal   prometheus.Counter
	chatRequestDuration    prometheus.Histogram
	chatRequestsTotal      *prometheus.CounterVec
	trackedIdentities      prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessions_active",
					Help: "Current live session count.",
				},
			),
			sessionsCreatedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_created_total",
					Help: "Total sessions admitted.",
				},
			),
			sessionsReclaimedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_reclaimed_total",
					Help: "Total expired sessions removed by the reclaimer.",
				},
			),
			reclaimFailuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "reclaim_failures_total",
					Help: "Total failed reclaim sweeps.",
				},
			),
			admissionRejectedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "admission_rejected_total",
					Help: "Total operations rejected by admission control, by reason.",
				},
				[]string{"reason"},
			),
			rateLimitDeniedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "rate_limit_denied_total",
					Help: "Total requests denied by the rate limiter.",
				},
			),
			chatRequestDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_request_duration_seconds",
					Help:    "Chat request handling duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			chatRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_requests_total",
					Help: "Total chat requests by status.",
				},
				[]string{"status"},
			),
			trackedIdentities: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "rate_limit_tracked_identities",
					Help: "Identities currently tracked by the rate limiter.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsCreatedTotal,
			m.sessionsReclaimedTotal,
			m.reclaimFailuresTotal,
			m.admissionRejectedTotal,
			m.rateLimitDeniedTotal,
			m.chatRequestDuration,
			m.chatRequestsTotal,
			m.trackedIdentities,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is
// called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func SetTrackedIdentities(count int) {
	getMetrics().trackedIdentities.Set(float64(count))
}

func RecordRateLimitDenied() {
	getMetrics().rateLimitDeniedTotal.Inc()
}

func RecordChatRequest(status string, duration time.Duration) {
	m := getMetrics()
	m.chatRequestsTotal.WithLabelValues(status).Inc()
	m.chatRequestDuration.Observe(duration.Seconds())
}
