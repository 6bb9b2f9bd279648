package authz

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains authorization metrics.
type Metrics struct {
	decisionTotal *prometheus.CounterVec
}

// NewMetrics creates authorization metrics registered with registerer. A
// nil registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		decisionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "authz",
				Name:      "decisions_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"decision", "role"},
		),
	}

	if registerer != nil {
		_ = registerer.Register(m.decisionTotal)
	}

	return m
}

// RecordDecision records an authorization decision.
func (m *Metrics) RecordDecision(allowed bool, role string) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.decisionTotal.WithLabelValues(decision, role).Inc()
}
