// Package observability provides Prometheus metrics and the health
// endpoint for the sniper.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Detection metrics
	PairsSeen     prometheus.Counter
	PairsAccepted prometheus.Counter
	PairsDropped  prometheus.Counter

	// Security metrics
	ValidationsTotal  *prometheus.CounterVec
	ValidationLatency prometheus.Histogram

	// Trading metrics
	TradesTotal    *prometheus.CounterVec
	TradesDeferred prometheus.Counter

	// Position metrics
	OpenPositions   prometheus.Gauge
	PositionsClosed *prometheus.CounterVec

	// Chain metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCCallErrors  *prometheus.CounterVec
}

// NewMetrics registers all metrics against the given registerer. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in
// tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "quickdraw"
	}
	factory := promauto.With(reg)

	return &Metrics{
		PairsSeen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pairs_seen_total",
			Help:      "Total number of PairCreated events observed",
		}),
		PairsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pairs_accepted_total",
			Help:      "Total number of pairs forwarded into the pipeline",
		}),
		PairsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "pairs_dropped_total",
			Help:      "Total number of pairs dropped due to a full queue",
		}),

		ValidationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "validations_total",
			Help:      "Total number of token validations by verdict",
		}, []string{"verdict"}),
		ValidationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "validation_latency_seconds",
			Help:      "Token validation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Total number of trades by side and status",
		}, []string{"side", "status"}),
		TradesDeferred: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "trades_deferred_total",
			Help:      "Total number of buys deferred by the gas ceiling",
		}),

		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "open_positions",
			Help:      "Current number of open positions",
		}),
		PositionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "closed_total",
			Help:      "Total number of closed positions by exit reason",
		}, []string{"reason"}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_latency_seconds",
			Help:      "Blockchain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCCallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rpc_call_errors_total",
			Help:      "Total number of failed blockchain RPC calls",
		}, []string{"method"}),
	}
}

// ObserveRPC satisfies chain.Observer.
func (m *Metrics) ObserveRPC(method string, elapsed time.Duration, err error) {
	m.RPCCallLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		m.RPCCallErrors.WithLabelValues(method).Inc()
	}
}

// RecordValidation records one security verdict with its duration.
func (m *Metrics) RecordValidation(passed bool, elapsed time.Duration) {
	verdict := "rejected"
	if passed {
		verdict = "passed"
	}
	m.ValidationsTotal.WithLabelValues(verdict).Inc()
	m.ValidationLatency.Observe(elapsed.Seconds())
}

// RecordTrade records one trade attempt outcome.
func (m *Metrics) RecordTrade(side string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TradesTotal.WithLabelValues(side, status).Inc()
}
