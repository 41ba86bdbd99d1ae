package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records ledger query latency by operation.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "locbot_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// SubmissionsTotal counts proposals by intake outcome.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_submissions_total",
		Help: "Total location proposals by outcome",
	}, []string{"outcome"})

	// PendingRequests is the number of requests awaiting a moderator.
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "locbot_pending_requests",
		Help: "Number of requests awaiting a moderator decision",
	})

	// DecisionsTotal counts applied decisions by verdict and persistence state.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_decisions_total",
		Help: "Total applied moderator decisions",
	}, []string{"status", "persistence"})

	// NotificationsTotal counts chat deliveries by kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_notifications_total",
		Help: "Total chat notifications by kind and result",
	}, []string{"kind", "result"})

	// CallbacksTotal counts routed moderator callbacks by action and result.
	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_callbacks_total",
		Help: "Total moderator callbacks by action and result",
	}, []string{"action", "result"})

	// SyncAttemptsTotal counts conditional write attempts by result.
	SyncAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_sync_attempts_total",
		Help: "Total document write attempts by result",
	}, []string{"operation", "result"})

	// SyncLatency records full load-modify-store cycle latency.
	SyncLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "locbot_sync_latency_seconds",
		Help:    "Document synchronization latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ReconcileRunsTotal counts scheduler runs by result.
	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_reconcile_runs_total",
		Help: "Total reconciliation runs by result",
	}, []string{"result"})

	// WebhookUpdatesTotal counts inbound webhook updates by result.
	WebhookUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locbot_webhook_updates_total",
		Help: "Total Telegram webhook updates by result",
	}, []string{"result"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// TrackSync returns a function that records synchronization latency when called.
func TrackSync(operation string) func() {
	start := time.Now()
	return func() {
		SyncLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}
