package audit

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "medgate/pkg/domain-errors"
	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/httputil"
	pstrings "medgate/pkg/platform/strings"
	"medgate/pkg/requestcontext"
)

// Reader is the audit service as seen by the handler.
type Reader interface {
	Query(ctx context.Context, caller requestcontext.Identity, filter audit.Filter, page audit.Page) (audit.Result, error)
	Summary(ctx context.Context, caller requestcontext.Identity, filter audit.Filter) (audit.Summary, error)
	Export(ctx context.Context, caller requestcontext.Identity, filter audit.Filter, format Format, w io.Writer) (int, error)
	Review(ctx context.Context, caller requestcontext.Identity, id string) (audit.Entry, error)
	Verify(ctx context.Context, caller requestcontext.Identity, from, to time.Time) (audit.Verification, error)
}

// Handler serves the /audit routes.
type Handler struct {
	reader Reader
	logger *slog.Logger
	guard  []func(http.Handler) http.Handler
}

// NewHandler creates the handler. guard is applied to the privileged routes
// (verify and review).
func NewHandler(reader Reader, logger *slog.Logger, guard ...func(http.Handler) http.Handler) *Handler {
	return &Handler{reader: reader, logger: logger, guard: guard}
}

// Register mounts the audit routes. Callers must install authentication on r
// first.
func (h *Handler) Register(r chi.Router) {
	r.Route("/audit", func(r chi.Router) {
		r.Get("/logs", h.handleQuery)
		r.Get("/summary", h.handleSummary)
		r.Get("/export", h.handleExport)
		r.With(h.guard...).Get("/verify", h.handleVerify)
		r.With(h.guard...).Post("/logs/{id}/review", h.handleReview)
	})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := parsePage(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.reader.Query(ctx, requestcontext.Caller(ctx), filter, page)
	if err != nil {
		h.fail(ctx, w, "audit query failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sum, err := h.reader.Summary(ctx, requestcontext.Caller(ctx), filter)
	if err != nil {
		h.fail(ctx, w, "audit summary failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter, err := parseFilter(q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	format, err := ParseFormat(strings.ToLower(q.Get("format")))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	// Buffered so a failed scan can still produce an error response.
	var buf bytes.Buffer
	count, err := h.reader.Export(ctx, requestcontext.Caller(ctx), filter, format, &buf)
	if err != nil {
		h.fail(ctx, w, "audit export failed", err)
		return
	}

	contentType := "application/json"
	if format == FormatCSV {
		contentType = "text/csv"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		"attachment; filename=\"audit-"+time.Now().UTC().Format("20060102T150405Z")+"."+string(format)+"\"")
	w.Header().Set("X-Export-Count", strconv.Itoa(count))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	from, err := parseTime(q, "from")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTime(q, "to")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.reader.Verify(ctx, requestcontext.Caller(ctx), from, to)
	if err != nil {
		h.fail(ctx, w, "audit verification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, err := h.reader.Review(ctx, requestcontext.Caller(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "audit review failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeServiceUnavailable {
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}

func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		UserID:   q.Get("userId"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
	}
	if raw := q.Get("riskLevel"); raw != "" {
		for _, part := range pstrings.SplitList(raw) {
			lvl, ok := audit.ParseRiskLevel(part)
			if !ok {
				return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "riskLevel must be LOW, MEDIUM, HIGH or CRITICAL")
			}
			f.RiskLevels = append(f.RiskLevels, lvl)
		}
	}
	if raw := q.Get("flagged"); raw != "" {
		flagged, err := strconv.ParseBool(raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "flagged must be true or false")
		}
		f.Flagged = &flagged
	}
	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return audit.Filter{}, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return audit.Filter{}, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return audit.Filter{}, dErrors.New(dErrors.CodeValidation, "from must be before to")
	}
	return f, nil
}

func parsePage(q url.Values) (audit.Page, error) {
	var p audit.Page
	var err error
	if p.Number, err = parseInt(q, "page"); err != nil {
		return p, err
	}
	if p.Size, err = parseInt(q, "pageSize"); err != nil {
		return p, err
	}
	return p.Normalize(), nil
}

func parseInt(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, dErrors.New(dErrors.CodeValidation, key+" must be a positive integer")
	}
	return n, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(q url.Values, key string) (time.Time, error) {
	raw := q.Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, dErrors.New(dErrors.CodeValidation, key+" must be an RFC 3339 timestamp or YYYY-MM-DD date")
}
