// Package observability provides Prometheus metrics, structured logging and
// health checks.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Chain metrics
	LogsReceived   prometheus.Counter
	WSState        prometheus.Gauge
	WSReconnects   prometheus.Counter
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
	BackfillLogs   prometheus.Counter

	// Ingestion metrics
	EventsDecoded        *prometheus.CounterVec
	EventsDropped        *prometheus.CounterVec
	DuplicatesSuppressed prometheus.Counter
	HighestBlockSeen     prometheus.Gauge

	// State metrics
	PriceUpdates      *prometheus.CounterVec
	LatestPrice       *prometheus.GaugeVec
	PositionsOpen     prometheus.Gauge
	PnLRecomputations prometheus.Counter
	InvalidPositions  prometheus.Counter

	// Reconciliation metrics
	ReconcileCycles      *prometheus.CounterVec
	ReconcileDuration    prometheus.Histogram
	ReconcileDivergences *prometheus.CounterVec
	DivergentTraders     prometheus.Gauge

	// Notification metrics
	NotificationsPublished *prometheus.CounterVec
	NotificationsDropped   *prometheus.CounterVec
	SinkErrors             *prometheus.CounterVec

	// Health metrics
	LastSuccessfulReconcile prometheus.Gauge
}

// NewMetrics creates metrics registered with reg.
// A nil reg uses a private registry, which keeps tests isolated.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "leverage_sync"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		// Chain metrics
		LogsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "logs_received_total",
			Help:      "Total number of raw logs received from the push stream",
		}),
		WSState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "ws_state",
			Help:      "WebSocket connection state (0=disconnected, 1=connecting, 2=connected, 3=closed)",
		}),
		WSReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "ws_reconnects_total",
			Help:      "Total number of successful WebSocket reconnections",
		}),
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed JSON-RPC calls after retries",
		}, []string{"method"}),
		BackfillLogs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "backfill_logs_total",
			Help:      "Total number of logs fetched by gap backfill",
		}),

		// Ingestion metrics
		EventsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_decoded_total",
			Help:      "Total number of decoded events by kind",
		}, []string{"kind"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_dropped_total",
			Help:      "Total number of dropped logs by reason",
		}, []string{"reason"}),
		DuplicatesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_suppressed_total",
			Help:      "Total number of redelivered events suppressed",
		}),
		HighestBlockSeen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_block_seen",
			Help:      "Highest block number seen on the push stream",
		}),

		// State metrics
		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "price_updates_total",
			Help:      "Total number of price ticks by store result",
		}, []string{"feed", "result"}),
		LatestPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "latest_price",
			Help:      "Latest accepted price per feed",
		}, []string{"feed"}),
		PositionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "positions_open",
			Help:      "Number of open positions held in memory",
		}),
		PnLRecomputations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "pnl_recomputations_total",
			Help:      "Total number of position PnL recomputations",
		}),
		InvalidPositions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "invalid_positions_total",
			Help:      "Total number of positions rejected or excluded as invalid",
		}),

		// Reconciliation metrics
		ReconcileCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycles_total",
			Help:      "Total number of reconciliation cycles by status",
		}, []string{"status"}),
		ReconcileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Reconciliation cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		ReconcileDivergences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "divergences_total",
			Help:      "Total number of positions repaired by reconciliation",
		}, []string{"action"}),
		DivergentTraders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "divergent_traders",
			Help:      "Number of traders whose divergence exceeded the threshold",
		}),

		// Notification metrics
		NotificationsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Total number of notifications published by kind",
		}, []string{"kind"}),
		NotificationsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total number of notifications dropped for a slow subscriber",
		}, []string{"subscriber"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sink_errors_total",
			Help:      "Total number of sink write failures",
		}, []string{"sink"}),

		// Health metrics
		LastSuccessfulReconcile: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_reconcile_timestamp",
			Help:      "Unix timestamp of last successful reconciliation cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint of the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLogReceived increments the raw log counter.
func (m *Metrics) RecordLogReceived() {
	if m == nil {
		return
	}
	m.LogsReceived.Inc()
}

// SetWSState records the connection state as a numeric gauge.
func (m *Metrics) SetWSState(state int) {
	if m == nil {
		return
	}
	m.WSState.Set(float64(state))
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.WSReconnects.Inc()
}

// RecordRPCCall records a JSON-RPC call latency and failure.
func (m *Metrics) RecordRPCCall(method string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordBackfill adds n backfilled logs.
func (m *Metrics) RecordBackfill(n int) {
	if m == nil {
		return
	}
	m.BackfillLogs.Add(float64(n))
}

// RecordDecoded increments the decoded counter for kind.
func (m *Metrics) RecordDecoded(kind string) {
	if m == nil {
		return
	}
	m.EventsDecoded.WithLabelValues(kind).Inc()
}

// RecordDropped increments the dropped counter for reason.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// RecordDuplicate increments the suppressed duplicates counter.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesSuppressed.Inc()
}

// UpdateHighestBlock updates the highest block gauge.
func (m *Metrics) UpdateHighestBlock(block uint64) {
	if m == nil {
		return
	}
	m.HighestBlockSeen.Set(float64(block))
}

// RecordPriceUpdate counts a tick by store result and tracks the latest price.
func (m *Metrics) RecordPriceUpdate(feed, result string, price float64) {
	if m == nil {
		return
	}
	m.PriceUpdates.WithLabelValues(feed, result).Inc()
	if result == "accepted" {
		m.LatestPrice.WithLabelValues(feed).Set(price)
	}
}

// SetPositionsOpen updates the open positions gauge.
func (m *Metrics) SetPositionsOpen(n int) {
	if m == nil {
		return
	}
	m.PositionsOpen.Set(float64(n))
}

// RecordPnL adds n PnL recomputations and invalid exclusions.
func (m *Metrics) RecordPnL(recomputed, invalid int) {
	if m == nil {
		return
	}
	m.PnLRecomputations.Add(float64(recomputed))
	m.InvalidPositions.Add(float64(invalid))
}

// RecordInvalidPosition increments the invalid position counter.
func (m *Metrics) RecordInvalidPosition() {
	if m == nil {
		return
	}
	m.InvalidPositions.Inc()
}

// RecordReconcileCycle records one reconciliation cycle.
func (m *Metrics) RecordReconcileCycle(status string, seconds float64, inserted, removed int) {
	if m == nil {
		return
	}
	m.ReconcileCycles.WithLabelValues(status).Inc()
	m.ReconcileDuration.Observe(seconds)
	m.ReconcileDivergences.WithLabelValues("inserted").Add(float64(inserted))
	m.ReconcileDivergences.WithLabelValues("removed").Add(float64(removed))
}

// SetDivergentTraders updates the escalated divergence gauge.
func (m *Metrics) SetDivergentTraders(n int) {
	if m == nil {
		return
	}
	m.DivergentTraders.Set(float64(n))
}

// MarkReconcileSuccess stamps the last successful reconciliation time.
func (m *Metrics) MarkReconcileSuccess(unix int64) {
	if m == nil {
		return
	}
	m.LastSuccessfulReconcile.Set(float64(unix))
}

// RecordPublished increments the published notification counter.
func (m *Metrics) RecordPublished(kind string) {
	if m == nil {
		return
	}
	m.NotificationsPublished.WithLabelValues(kind).Inc()
}

// RecordNotificationDropped increments the per-subscriber drop counter.
func (m *Metrics) RecordNotificationDropped(subscriber string) {
	if m == nil {
		return
	}
	m.NotificationsDropped.WithLabelValues(subscriber).Inc()
}

// RecordSinkError increments the sink failure counter.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
