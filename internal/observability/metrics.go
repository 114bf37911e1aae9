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
	// Search metrics
	SearchesStarted  prometheus.Counter
	SearchesFinished *prometheus.CounterVec
	SamplesEvaluated prometheus.Counter
	SamplesDropped   *prometheus.CounterVec
	SearchDuration   prometheus.Histogram
	ActiveSearches   prometheus.Gauge
	BestAnnualized   prometheus.Gauge

	// Backtest metrics
	EventsSimulated    prometheus.Counter
	TradesSimulated    prometheus.Counter
	EvaluationDuration prometheus.Histogram

	// Data metrics
	BarsServed       prometheus.Counter
	SymbolCacheSize  prometheus.Gauge
	DataFetchErrors  *prometheus.CounterVec
	BarsDroppedDirty prometheus.Counter

	// API metrics
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	WSConnections   prometheus.Gauge
	ReportsRendered prometheus.Counter
}

// NewMetrics creates a Metrics instance registered against reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "rebalance_backend"
	}
	factory := promauto.With(reg)

	return &Metrics{
		SearchesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "runs_started_total",
			Help:      "Total number of parameter searches started",
		}),
		SearchesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "runs_finished_total",
			Help:      "Total number of parameter searches finished by status",
		}, []string{"status"}),
		SamplesEvaluated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "samples_evaluated_total",
			Help:      "Total number of parameter samples fully evaluated",
		}),
		SamplesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "samples_dropped_total",
			Help:      "Total number of parameter samples dropped by reason",
		}, []string{"reason"}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of parameter searches in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		ActiveSearches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "active",
			Help:      "Number of searches currently running",
		}),
		BestAnnualized: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "best_annualized_return_pct",
			Help:      "Best annualized return found by the most recent search, in percent",
		}),

		EventsSimulated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "events_simulated_total",
			Help:      "Total number of rebalance events simulated",
		}),
		TradesSimulated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "trades_simulated_total",
			Help:      "Total number of trades simulated",
		}),
		EvaluationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "evaluation_duration_seconds",
			Help:      "Full-period evaluation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		BarsServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "bars_served_total",
			Help:      "Total number of price bars served to backtests",
		}),
		SymbolCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "symbol_cache_size",
			Help:      "Number of symbols currently held in the bar cache",
		}),
		DataFetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "fetch_errors_total",
			Help:      "Total number of price data fetch errors by symbol",
		}, []string{"symbol"}),
		BarsDroppedDirty: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "bars_dropped_total",
			Help:      "Total number of bars dropped by quality checks",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "ws_connections",
			Help:      "Number of active WebSocket progress subscribers",
		}),
		ReportsRendered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "reports_rendered_total",
			Help:      "Total number of result reports rendered",
		}),
	}
}

// RecordSearchFinished records one finished search with its outcome.
func (m *Metrics) RecordSearchFinished(status string, durationSeconds float64) {
	m.SearchesFinished.WithLabelValues(status).Inc()
	m.SearchDuration.Observe(durationSeconds)
}

// RecordDroppedSample counts one dropped sample by reason.
func (m *Metrics) RecordDroppedSample(reason string) {
	m.SamplesDropped.WithLabelValues(reason).Inc()
}

// Handler returns an HTTP handler serving the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
