package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"medgate/pkg/platform/circuit"
)

// Metrics holds the gateway-wide Prometheus metrics. Module-specific metrics
// live with their modules.
type Metrics struct {
	RequestDuration    *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
}

// New creates and registers the gateway metrics.
func New() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medgate_http_request_duration_seconds",
			Help:    "Inbound HTTP request duration by route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medgate_circuit_breaker_state",
			Help: "Circuit breaker state per target (0=closed, 1=half-open, 2=open)",
		}, []string{"breaker"}),
		BreakerTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		}, []string{"breaker", "from", "to"}),
	}
}

// ObserveRequest records one inbound request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// ObserveTransition records a breaker transition and updates its state gauge.
func (m *Metrics) ObserveTransition(t circuit.Transition) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(t.Name, t.From.String(), t.To.String()).Inc()
	m.SetBreakerState(t.Name, t.To)
}

// SetBreakerState sets the state gauge for one breaker.
func (m *Metrics) SetBreakerState(name string, s circuit.State) {
	if m == nil {
		return
	}
	var v float64
	switch s {
	case circuit.StateHalfOpen:
		v = 1
	case circuit.StateOpen:
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}

// Middleware records request duration labelled by the matched chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.ObserveRequest(r.Method, route, status, time.Since(start))
	})
}
