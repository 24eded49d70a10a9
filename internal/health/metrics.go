package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks probe outcomes.
type Metrics struct {
	ProbeDuration *prometheus.HistogramVec
	Degraded      prometheus.Gauge
}

// NewMetrics creates and registers the health metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ProbeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medgate_health_probe_duration_seconds",
			Help:    "Health probe latency by target and result",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"target", "status"}),
		Degraded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "medgate_health_degraded",
			Help: "1 when the last aggregate health check was degraded",
		}),
	}
}

func (m *Metrics) ObserveProbe(target string, status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.ProbeDuration.WithLabelValues(target, string(status)).Observe(d.Seconds())
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
