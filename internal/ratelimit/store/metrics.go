package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for store operations.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	connectionRetries prometheus.Counter
	connectionErrors  prometheus.Counter
	healthy           prometheus.Gauge
}

// NewMetrics creates store metrics registered with registerer. A nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "operations_total",
				Help:      "Total number of rate limit store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of rate limit store operations in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),
		connectionRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "connection_retries_total",
				Help:      "Total number of Redis connection retry attempts",
			},
		),
		connectionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "connection_errors_total",
				Help:      "Total number of Redis connection errors",
			},
		),
		healthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ratelimit_store",
				Name:      "healthy",
				Help:      "Whether the Redis store is reachable (1) or not (0)",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.operationsTotal,
			m.operationDuration,
			m.connectionRetries,
			m.connectionErrors,
			m.healthy,
		)
	}

	return m
}
