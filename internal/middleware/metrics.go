package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds middleware metrics.
type Metrics struct {
	panicsRecovered   prometheus.Counter
	bodyLimitRejected prometheus.Counter
}

// NewMetrics creates middleware metrics registered with registerer. A nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		panicsRecovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "panics_recovered_total",
				Help:      "Total number of recovered handler panics",
			},
		),
		bodyLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "middleware",
				Name:      "body_limit_rejected_total",
				Help:      "Total number of requests rejected for an oversized body",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.panicsRecovered, m.bodyLimitRejected)
	}

	return m
}

func (m *Metrics) recordPanic() {
	if m == nil {
		return
	}
	m.panicsRecovered.Inc()
}

func (m *Metrics) recordBodyRejected() {
	if m == nil {
		return
	}
	m.bodyLimitRejected.Inc()
}
