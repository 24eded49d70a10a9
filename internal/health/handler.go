package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "medgate/pkg/domain-errors"
	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/circuit"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/requestcontext"
)

// Checker produces an aggregate health report.
type Checker interface {
	CheckAll(ctx context.Context) Report
}

// Handler serves the service health and breaker metrics endpoints.
type Handler struct {
	checker  Checker
	breakers *circuit.Group
	recorder audit.Recorder
	logger   *slog.Logger
	clock    func() time.Time
	guard    []func(http.Handler) http.Handler
}

// NewHandler creates the handler. guard is applied to GET /metrics only;
// recorder receives operator breaker resets and may be nil.
func NewHandler(checker Checker, breakers *circuit.Group, recorder audit.Recorder, logger *slog.Logger, guard ...func(http.Handler) http.Handler) *Handler {
	return &Handler{
		checker:  checker,
		breakers: breakers,
		recorder: recorder,
		logger:   logger,
		clock:    time.Now,
		guard:    guard,
	}
}

// Register mounts GET /health/services and GET /metrics.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health/services", h.handleServices)
	r.With(h.guard...).Get("/metrics", h.handleMetrics)
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	report := h.checker.CheckAll(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
		h.logger.WarnContext(r.Context(), "gateway degraded",
			"healthy", report.Summary.Healthy,
			"unhealthy", report.Summary.Unhealthy,
		)
	}
	httputil.WriteJSON(w, status, report)
}

type breakerMetrics struct {
	State circuit.State `json:"state"`
	Stats circuit.Stats `json:"stats"`
}

type serviceMetrics struct {
	CircuitBreaker breakerMetrics `json:"circuitBreaker"`
}

type metricsResponse struct {
	Timestamp time.Time                 `json:"timestamp"`
	Services  map[string]serviceMetrics `json:"services"`
}

func (h *Handler) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	resp := metricsResponse{
		Timestamp: h.clock().UTC(),
		Services:  map[string]serviceMetrics{},
	}
	for _, s := range h.breakers.Snapshots() {
		resp.Services[s.Name] = serviceMetrics{
			CircuitBreaker: breakerMetrics{State: s.State, Stats: s.Stats},
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// RegisterAdmin mounts POST /admin/breakers/{name}/reset behind guard.
func (h *Handler) RegisterAdmin(r chi.Router, guard ...func(http.Handler) http.Handler) {
	r.With(guard...).Post("/admin/breakers/{name}/reset", h.handleResetBreaker)
}

func (h *Handler) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	b, ok := h.breakers.Get(name)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown circuit breaker"))
		return
	}
	from := b.State()
	b.Reset()
	h.logger.WarnContext(ctx, "circuit breaker reset by operator",
		"breaker", name,
		"from", from.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if h.recorder != nil {
		h.recorder.Record(ctx, audit.Entry{
			Action:         audit.ActionBreakerReset,
			Resource:       "circuit-breakers",
			ResourceID:     name,
			Description:    fmt.Sprintf("Circuit breaker %s reset from %s", name, from),
			Method:         r.Method,
			Endpoint:       r.URL.Path,
			ResponseStatus: http.StatusOK,
			RiskLevel:      audit.RiskMedium,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, b.Snapshot())
}
