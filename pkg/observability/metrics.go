package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Webhook metrics
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxloop_webhook_requests_total",
			Help: "Total number of webhook requests",
		},
		[]string{"outcome"},
	)

	webhookRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxloop_webhook_request_duration_seconds",
			Help:    "Webhook request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxloop_turns_total",
			Help: "Total number of completed conversation turns",
		},
		[]string{"stage"},
	)

	fallbackRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxloop_fallback_replies_total",
			Help: "Total number of replies served by the fallback generator",
		},
		[]string{"stage"},
	)

	// Generation backend metrics
	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voxloop_generation_duration_seconds",
			Help:    "Generation backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	generationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxloop_generation_failures_total",
			Help: "Total number of failed generation backend calls",
		},
		[]string{"provider", "code"},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxloop_active_sessions",
			Help: "Number of sessions currently held in the store",
		},
	)

	sessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voxloop_sessions_reaped_total",
			Help: "Total number of sessions removed by the reaper",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics. Safe to call more than
// once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			webhookRequestsTotal,
			webhookRequestDuration,
			turnsTotal,
			fallbackRepliesTotal,
			generationDuration,
			generationFailuresTotal,
			activeSessions,
			sessionsReapedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordWebhookRequest records one webhook invocation. outcome is one
// of "continue", "terminate", "apology", "rate_limited".
func RecordWebhookRequest(outcome string, duration time.Duration) {
	webhookRequestsTotal.WithLabelValues(outcome).Inc()
	webhookRequestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordTurn records one committed conversation turn.
func RecordTurn(stage string, fallback bool) {
	turnsTotal.WithLabelValues(stage).Inc()
	if fallback {
		fallbackRepliesTotal.WithLabelValues(stage).Inc()
	}
}

// RecordGeneration records a generation backend call.
func RecordGeneration(provider string, duration time.Duration) {
	generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordGenerationFailure records a failed generation backend call.
func RecordGenerationFailure(provider, code string) {
	generationFailuresTotal.WithLabelValues(provider, code).Inc()
}

// SetActiveSessions sets the active sessions gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// AddSessionsReaped adds to the reaped sessions counter.
func AddSessionsReaped(count int) {
	sessionsReapedTotal.Add(float64(count))
}
