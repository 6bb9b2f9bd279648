package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds downstream call metrics.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

// NewMetrics creates proxy metrics registered with registerer. A nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_requests_total",
				Help:      "Total number of upstream requests by target and status",
			},
			[]string{"target", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "upstream_duration_seconds",
				Help:      "Duration of upstream requests",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"target"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of upstream transport errors",
			},
			[]string{"target", "error_type"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.requestsTotal, m.requestDuration, m.errorsTotal)
	}

	return m
}

func (m *Metrics) recordResponse(target string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(target, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(target).Observe(d.Seconds())
}

func (m *Metrics) recordError(target, errorType string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(target, errorType).Inc()
}
