package apierror

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains error response metrics.
type Metrics struct {
	responsesTotal *prometheus.CounterVec
	alertsTotal    *prometheus.CounterVec
}

// NewMetrics creates error metrics registered with registerer. A nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		responsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "responses_total",
				Help:      "Total number of error responses by status and error code",
			},
			[]string{"status", "code"},
		),
		alertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "errors",
				Name:      "security_alerts_total",
				Help:      "Total number of error pattern security alerts",
			},
			[]string{"status", "code"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.responsesTotal, m.alertsTotal)
	}

	return m
}

func (m *Metrics) recordResponse(status int, code string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(strconv.Itoa(status), code).Inc()
}

func (m *Metrics) recordAlert(status int, code string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(strconv.Itoa(status), code).Inc()
}
