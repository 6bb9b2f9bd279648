package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/rentgw/internal/apierror"
)

// Metrics holds pipeline stage metrics.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
}

// NewMetrics creates stage metrics registered with registerer. A nil
// registerer leaves the metrics unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "gateway"
	}

	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Admission stage duration in seconds by outcome",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"stage", "outcome"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.stageDuration)
	}

	return m
}

func (m *Metrics) observe(stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = apierror.KindOf(err).Code()
	}
	m.stageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}
