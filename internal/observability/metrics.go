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
	// Ingestion metrics
	EventsProcessed       *prometheus.CounterVec
	EventsDeduplicated    prometheus.Counter
	MalformedEvents       *prometheus.CounterVec
	EventProcessingErrors *prometheus.CounterVec

	// Connection metrics
	ConnectionState *prometheus.GaugeVec
	Reconnects      *prometheus.CounterVec

	// Backfill metrics
	BackfillsStarted  *prometheus.CounterVec
	BackfillsFailed   *prometheus.CounterVec
	BackfillDuration  *prometheus.HistogramVec
	PairsTracked      *prometheus.GaugeVec
	TimestampCacheHit *prometheus.CounterVec

	// Storage metrics
	FlushDuration prometheus.Histogram
	RowsFlushed   *prometheus.CounterVec
	FlushErrors   *prometheus.CounterVec

	// RPC metrics
	RPCCallLatency *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dexfeed"
	}

	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_processed_total",
			Help:      "Total number of events processed by chain and kind",
		}, []string{"chain", "kind"}),
		EventsDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_deduplicated_total",
			Help:      "Total number of redelivered events dropped by hash dedupe",
		}),
		MalformedEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "malformed_events_total",
			Help:      "Total number of malformed events skipped",
		}, []string{"chain", "kind"}),
		EventProcessingErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_errors_total",
			Help:      "Total number of event processing errors",
		}, []string{"chain", "kind"}),

		ConnectionState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state per chain (0=disconnected 1=connecting 2=ready 3=error)",
		}, []string{"chain"}),
		Reconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of reconnect attempts per chain",
		}, []string{"chain"}),

		BackfillsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "started_total",
			Help:      "Total number of pair backfills started",
		}, []string{"chain"}),
		BackfillsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "failed_total",
			Help:      "Total number of pair backfills that failed",
		}, []string{"chain"}),
		BackfillDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Backfill duration per pair in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"chain"}),
		PairsTracked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "pairs_tracked",
			Help:      "Number of tracked pairs per chain",
		}, []string{"chain"}),
		TimestampCacheHit: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "timestamp_cache_total",
			Help:      "Block timestamp lookups by cache outcome",
		}, []string{"outcome"}),

		FlushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "flush_duration_seconds",
			Help:      "Batch flush duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		RowsFlushed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "rows_flushed_total",
			Help:      "Total rows flushed by entity kind",
		}, []string{"entity"}),
		FlushErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "flush_errors_total",
			Help:      "Total failed bulk writes by entity kind",
		}, []string{"entity"}),

		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "method"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventProcessed increments the processed counter for a chain and kind.
func RecordEventProcessed(chain, kind string) {
	DefaultMetrics.EventsProcessed.WithLabelValues(chain, kind).Inc()
}

// RecordDeduplicated counts a redelivered hash dropped before aggregation.
func RecordDeduplicated() {
	DefaultMetrics.EventsDeduplicated.Inc()
}

// RecordMalformed counts a skipped malformed event.
func RecordMalformed(chain, kind string) {
	DefaultMetrics.MalformedEvents.WithLabelValues(chain, kind).Inc()
}

// RecordProcessingError counts a failed event fold.
func RecordProcessingError(chain, kind string) {
	DefaultMetrics.EventProcessingErrors.WithLabelValues(chain, kind).Inc()
}

// RecordPairsTracked sets the tracked-pair gauge for a chain.
func RecordPairsTracked(chain string, n int) {
	DefaultMetrics.PairsTracked.WithLabelValues(chain).Set(float64(n))
}

// RecordTimestampLookup counts a block timestamp lookup by cache outcome.
func RecordTimestampLookup(outcome string) {
	DefaultMetrics.TimestampCacheHit.WithLabelValues(outcome).Inc()
}

// RecordConnectionState updates the state gauge for a chain.
func RecordConnectionState(chain string, state int) {
	DefaultMetrics.ConnectionState.WithLabelValues(chain).Set(float64(state))
}

// RecordReconnect counts a reconnect attempt.
func RecordReconnect(chain string) {
	DefaultMetrics.Reconnects.WithLabelValues(chain).Inc()
}

// RecordBackfill records one backfill outcome.
func RecordBackfill(chain string, seconds float64, err error) {
	DefaultMetrics.BackfillsStarted.WithLabelValues(chain).Inc()
	DefaultMetrics.BackfillDuration.WithLabelValues(chain).Observe(seconds)
	if err != nil {
		DefaultMetrics.BackfillsFailed.WithLabelValues(chain).Inc()
	}
}

// RecordFlush records one batch flush.
func RecordFlush(seconds float64) {
	DefaultMetrics.FlushDuration.Observe(seconds)
}

// RecordRowsFlushed counts rows landed per entity kind.
func RecordRowsFlushed(entity string, n int) {
	DefaultMetrics.RowsFlushed.WithLabelValues(entity).Add(float64(n))
}

// RecordFlushError counts a dropped batch.
func RecordFlushError(entity string) {
	DefaultMetrics.FlushErrors.WithLabelValues(entity).Inc()
}

// RecordRPCLatency records JSON-RPC call latency.
func RecordRPCLatency(chain, method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(chain, method).Observe(seconds)
}
