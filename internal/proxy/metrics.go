package proxy

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks proxied calls.
type Metrics struct {
	CallDuration *prometheus.HistogramVec
	Calls        *prometheus.CounterVec
}

// NewMetrics creates and registers the proxy metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medgate_proxy_call_duration_seconds",
			Help:    "Duration of proxied calls by target and outcome",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"target", "outcome"}),
		Calls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_proxy_calls_total",
			Help: "Proxied calls by target, outcome and status code",
		}, []string{"target", "outcome", "status"}),
	}
}

func (m *Metrics) ObserveCall(target string, outcome Outcome, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(target, string(outcome)).Observe(d.Seconds())
	m.Calls.WithLabelValues(target, string(outcome), strconv.Itoa(status)).Inc()
}
