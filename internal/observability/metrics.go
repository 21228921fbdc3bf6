// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Webhook metrics
	WebhookRequests       *prometheus.CounterVec
	NotificationsReceived prometheus.Counter
	TradesParsed          prometheus.Counter
	NotificationsSkipped  *prometheus.CounterVec
	DuplicatesDropped     prometheus.Counter

	// Queue metrics
	JobsEnqueued        prometheus.Counter
	EnqueuesDeduped     prometheus.Counter
	JobsProcessed       prometheus.Counter
	JobRetriesScheduled prometheus.Counter
	JobsParked          prometheus.Counter

	// Worker metrics
	TradesApplied   prometheus.Counter
	TradesReplayed  prometheus.Counter
	TradesBroadcast prometheus.Counter
	WorkerErrors    *prometheus.CounterVec
	ApplyLatency    prometheus.Histogram

	// WebSocket metrics
	WSConnections   prometheus.Gauge
	WSSubscriptions prometheus.Gauge
	WSMessagesSent  prometheus.Counter
	WSSendFailures  prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Archive metrics
	TicksArchived prometheus.Counter
	ArchiveErrors prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "trade_relay"
	}

	return &Metrics{
		// Webhook metrics
		WebhookRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total number of webhook requests by status",
		}, []string{"status"}),
		NotificationsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "notifications_received_total",
			Help:      "Total number of swap notifications received",
		}),
		TradesParsed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "trades_parsed_total",
			Help:      "Total number of notifications parsed into trade events",
		}),
		NotificationsSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "notifications_skipped_total",
			Help:      "Total number of notifications skipped by reason",
		}, []string{"reason"}),
		DuplicatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of trades dropped by signature dedup",
		}),

		// Queue metrics
		JobsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Total number of jobs enqueued",
		}),
		EnqueuesDeduped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueues_deduped_total",
			Help:      "Total number of enqueues dropped by idempotency key",
		}),
		JobsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed successfully",
		}),
		JobRetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "job_retries_scheduled_total",
			Help:      "Total number of job retries scheduled after failure",
		}),
		JobsParked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_parked_total",
			Help:      "Total number of jobs parked after exhausting attempts",
		}),

		// Worker metrics
		TradesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "trades_applied_total",
			Help:      "Total number of trades applied to storage",
		}),
		TradesReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "trades_replayed_total",
			Help:      "Total number of redelivered trades skipped as already applied",
		}),
		TradesBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "trades_broadcast_total",
			Help:      "Total number of trades published to the broker",
		}),
		WorkerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "errors_total",
			Help:      "Total number of worker errors by stage",
		}, []string{"stage"}),
		ApplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "apply_latency_seconds",
			Help:      "Trade apply transaction latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Current number of WebSocket connections",
		}),
		WSSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "subscriptions",
			Help:      "Current number of active channel subscriptions",
		}),
		WSMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent to WebSocket clients",
		}),
		WSSendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "send_failures_total",
			Help:      "Total number of failed WebSocket sends",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Archive metrics
		TicksArchived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "ticks_archived_total",
			Help:      "Total number of trade ticks written to the archive",
		}),
		ArchiveErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "errors_total",
			Help:      "Total number of archive write errors",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordWebhookRequest increments the webhook request counter for a status.
func RecordWebhookRequest(status string) {
	DefaultMetrics.WebhookRequests.WithLabelValues(status).Inc()
}

// RecordNotificationsReceived adds to the received notifications counter.
func RecordNotificationsReceived(n int) {
	DefaultMetrics.NotificationsReceived.Add(float64(n))
}

// RecordTradesParsed adds to the parsed trades counter.
func RecordTradesParsed(n int) {
	DefaultMetrics.TradesParsed.Add(float64(n))
}

// RecordNotificationSkipped records a notification skipped during parsing.
func RecordNotificationSkipped(reason string) {
	DefaultMetrics.NotificationsSkipped.WithLabelValues(reason).Inc()
}

// RecordDuplicateDropped increments the dedup counter.
func RecordDuplicateDropped() {
	DefaultMetrics.DuplicatesDropped.Inc()
}

// RecordJobsEnqueued adds to the enqueued jobs counter.
func RecordJobsEnqueued(n int) {
	DefaultMetrics.JobsEnqueued.Add(float64(n))
}

// RecordEnqueueDeduped increments the enqueue dedup counter.
func RecordEnqueueDeduped() {
	DefaultMetrics.EnqueuesDeduped.Inc()
}

// RecordJobProcessed increments the processed jobs counter.
func RecordJobProcessed() {
	DefaultMetrics.JobsProcessed.Inc()
}

// RecordJobRetryScheduled increments the scheduled retries counter.
func RecordJobRetryScheduled() {
	DefaultMetrics.JobRetriesScheduled.Inc()
}

// RecordJobParked increments the parked jobs counter.
func RecordJobParked() {
	DefaultMetrics.JobsParked.Inc()
}

// RecordTradeApplied records the outcome of a trade apply.
func RecordTradeApplied(applied bool, seconds float64) {
	DefaultMetrics.ApplyLatency.Observe(seconds)
	if applied {
		DefaultMetrics.TradesApplied.Inc()
	} else {
		DefaultMetrics.TradesReplayed.Inc()
	}
}

// RecordTradeBroadcast increments the broadcast counter.
func RecordTradeBroadcast() {
	DefaultMetrics.TradesBroadcast.Inc()
}

// RecordWorkerError records a worker error by stage.
func RecordWorkerError(stage string) {
	DefaultMetrics.WorkerErrors.WithLabelValues(stage).Inc()
}

// UpdateWSConnections sets the connection gauge.
func UpdateWSConnections(n int) {
	DefaultMetrics.WSConnections.Set(float64(n))
}

// UpdateWSSubscriptions sets the subscription gauge.
func UpdateWSSubscriptions(n int) {
	DefaultMetrics.WSSubscriptions.Set(float64(n))
}

// RecordWSMessageSent increments the sent messages counter.
func RecordWSMessageSent() {
	DefaultMetrics.WSMessagesSent.Inc()
}

// RecordWSSendFailure increments the failed sends counter.
func RecordWSSendFailure() {
	DefaultMetrics.WSSendFailures.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordTickArchived adds to the archived ticks counter.
func RecordTickArchived(n int) {
	DefaultMetrics.TicksArchived.Add(float64(n))
}

// RecordArchiveError increments the archive errors counter.
func RecordArchiveError() {
	DefaultMetrics.ArchiveErrors.Inc()
}
