package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decision outcomes.
const (
	outcomeAllowed  = "allowed"
	outcomeDenied   = "denied"
	outcomeSkipped  = "skipped"
	outcomeDegraded = "degraded"
)

// Metrics holds rate limiter metrics.
type Metrics struct {
	decisionsTotal   *prometheus.CounterVec
	storeErrorsTotal prometheus.Counter
}

// NewMetrics creates limiter metrics registered with registerer. A nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions by outcome",
			},
			[]string{"outcome"},
		),
		storeErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "store_errors_total",
				Help:      "Total number of counter store failures handled by failing open",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.decisionsTotal, m.storeErrorsTotal)
	}

	for _, o := range []string{outcomeAllowed, outcomeDenied, outcomeSkipped, outcomeDegraded} {
		m.decisionsTotal.WithLabelValues(o)
	}

	return m
}

func (m *Metrics) recordDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordStoreError() {
	if m == nil {
		return
	}
	m.storeErrorsTotal.Inc()
}
