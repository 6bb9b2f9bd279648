package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Call results.
const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultTimeout  = "timeout"
	resultRejected = "rejected"
	resultCanceled = "canceled"
)

// Metrics holds circuit breaker metrics.
type Metrics struct {
	state         *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
	calls         *prometheus.CounterVec
	eventsDropped prometheus.Counter
}

// NewMetrics creates breaker metrics registered with registerer. A nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"target"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"target", "from", "to"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "calls_total",
				Help:      "Total number of calls through circuit breakers by result",
			},
			[]string{"target", "result"},
		),
		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "events_dropped_total",
				Help:      "Total number of transition events dropped for slow subscribers",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.state, m.transitions, m.calls, m.eventsDropped)
	}

	return m
}

func (m *Metrics) recordState(target string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(target).Set(float64(s))
}

func (m *Metrics) recordTransition(target string, from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(target, from.String(), to.String()).Inc()
	m.state.WithLabelValues(target).Set(float64(to))
}

func (m *Metrics) recordCall(target, result string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(target, result).Inc()
}

func (m *Metrics) recordDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
