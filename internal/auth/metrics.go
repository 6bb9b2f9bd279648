package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authentication.
type Metrics struct {
	attemptsTotal   *prometheus.CounterVec
	attemptDuration prometheus.Histogram
}

// NewMetrics creates authentication metrics registered with registerer.
// A nil registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Total number of authentication attempts by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		attemptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempt_duration_seconds",
				Help:      "Token verification duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
	}

	if registerer != nil {
		// Ignore duplicate registration; descriptors are identical.
		_ = registerer.Register(m.attemptsTotal)
		_ = registerer.Register(m.attemptDuration)
	}

	m.Init()

	return m
}

// Init pre-populates the outcome/reason combinations so they appear in
// /metrics output immediately after startup.
func (m *Metrics) Init() {
	m.attemptsTotal.WithLabelValues("success", "")
	for _, reason := range []string{"missing_or_malformed_header", "invalid_token", "invalid_claims"} {
		m.attemptsTotal.WithLabelValues("failure", reason)
	}
}

// RecordSuccess records a successful authentication.
func (m *Metrics) RecordSuccess(duration time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues("success", "").Inc()
	m.attemptDuration.Observe(duration.Seconds())
}

// RecordFailure records a failed authentication.
func (m *Metrics) RecordFailure(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues("failure", reason).Inc()
	m.attemptDuration.Observe(duration.Seconds())
}
