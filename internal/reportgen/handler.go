package reportgen

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/requestcontext"
)

// HeaderIdempotencyKey lets clients retry report generation safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// Generator is the report service as seen by the handler.
type Generator interface {
	GenerateReport(ctx context.Context, in Input, idempotencyKey string) (Result, error)
}

// Handler serves POST /generate-report.
type Handler struct {
	generator Generator
	logger    *slog.Logger
}

// NewHandler creates the report handler.
func NewHandler(generator Generator, logger *slog.Logger) *Handler {
	return &Handler{generator: generator, logger: logger}
}

// Register mounts the report route. Callers must install authentication on r
// first.
func (h *Handler) Register(r chi.Router) {
	r.Post("/generate-report", h.handleGenerate)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	in, err := httputil.DecodeJSON[Input](r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid report request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	res, err := h.generator.GenerateReport(ctx, *in, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "report generation failed",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
