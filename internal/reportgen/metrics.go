package reportgen

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks report generation.
type Metrics struct {
	Attempts  *prometheus.CounterVec
	Fallbacks prometheus.Counter
	CacheHits *prometheus.CounterVec
}

// NewMetrics creates and registers the report generation metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_reportgen_attempts_total",
			Help: "Provider attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		Fallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medgate_reportgen_fallback_total",
			Help: "Reports served by the manual-review fallback after every provider failed",
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_reportgen_idempotency_cache_total",
			Help: "Idempotency cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) IncFallback() {
	if m == nil {
		return
	}
	m.Fallbacks.Inc()
}

func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheHits.WithLabelValues(result).Inc()
}
