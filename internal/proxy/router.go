// Package proxy forwards authenticated requests to downstream targets through
// their circuit breakers and records one audit entry per call.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"medgate/internal/targets"
	dErrors "medgate/pkg/domain-errors"
	audit "medgate/pkg/platform/audit"
	platformhttp "medgate/pkg/platform/httputil"
	"medgate/pkg/platform/circuit"
	"medgate/pkg/requestcontext"
)

// Outcome classifies a proxied call for metrics and logs.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeForbidden       Outcome = "forbidden"
	OutcomeCircuitOpen     Outcome = "circuit_open"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeDownstreamError Outcome = "downstream_error"
	OutcomeUnavailable     Outcome = "unavailable"
	OutcomePanic           Outcome = "panic"
)

// Router forwards requests to targets.
type Router struct {
	registry  *targets.Registry
	recorder  audit.Recorder
	logger    *slog.Logger
	metrics   *Metrics
	transport http.RoundTripper
	proxies   map[string]*httputil.ReverseProxy
}

// Option configures the Router.
type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(rt *Router) {
		rt.metrics = m
	}
}

// WithTransport sets the round tripper beneath the breakers.
func WithTransport(t http.RoundTripper) Option {
	return func(rt *Router) {
		if t != nil {
			rt.transport = t
		}
	}
}

// New creates a router over every target in registry.
func New(registry *targets.Registry, recorder audit.Recorder, opts ...Option) *Router {
	rt := &Router{
		registry:  registry,
		recorder:  recorder,
		logger:    slog.Default(),
		transport: http.DefaultTransport,
		proxies:   make(map[string]*httputil.ReverseProxy),
	}
	for _, opt := range opts {
		opt(rt)
	}
	for _, t := range registry.All() {
		rt.proxies[t.Name] = rt.newReverseProxy(t)
	}
	return rt
}

// Register mounts every proxied target under its route prefix. Callers must
// install authentication on r first.
func (rt *Router) Register(r chi.Router) {
	for _, t := range rt.registry.Proxied() {
		h := rt.Handler(t)
		r.Handle(t.RoutePrefix, h)
		r.Handle(t.RoutePrefix+"/*", h)
	}
}

// Handler returns an http.Handler forwarding to t.
func (rt *Router) Handler(t *targets.Target) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt.Forward(w, r, t)
	})
}

// exchange collects what happened to one call. ModifyResponse and
// ErrorHandler fill it in; Forward reads it afterwards.
type exchange struct {
	target   *targets.Target
	path     string
	upstream int
	err      error
	outcome  Outcome
}

type exchangeKey struct{}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

// Forward authorizes the caller and proxies r to t.
func (rt *Router) Forward(w http.ResponseWriter, r *http.Request, t *targets.Target) {
	start := time.Now()
	ctx := r.Context()
	caller := requestcontext.Caller(ctx)
	ex := &exchange{target: t, path: t.StripPrefix(r.URL.Path), outcome: OutcomeSuccess}
	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

	defer func() {
		rec := recover()
		if rec != nil {
			ex.outcome = OutcomePanic
			ex.err = fmt.Errorf("panic: %v", rec)
			rt.logger.ErrorContext(ctx, "panic while proxying",
				"target", t.Name,
				"panic", rec,
				"request_id", requestcontext.RequestID(ctx),
			)
			if ww.Status() == 0 {
				platformhttp.WriteError(ww, dErrors.New(dErrors.CodeServiceUnavailable, fmt.Sprintf("Service %s is unavailable", t.Name)))
			}
		}
		rt.finish(ctx, r, ex, ww.Status(), time.Since(start))
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
	}()

	if !t.Authorize(caller) {
		ex.outcome = OutcomeForbidden
		rt.logger.WarnContext(ctx, "insufficient permissions for target",
			"target", t.Name,
			"user_id", caller.UserID,
			"role", caller.Role,
			"request_id", requestcontext.RequestID(ctx),
		)
		platformhttp.WriteError(ww, dErrors.New(dErrors.CodeForbidden, "Insufficient permissions"))
		return
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	ctx = context.WithValue(ctx, exchangeKey{}, ex)
	rt.proxies[t.Name].ServeHTTP(ww, r.WithContext(ctx))
}

func (rt *Router) newReverseProxy(t *targets.Target) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = t.StripPrefix(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.SetURL(t.BaseURL)
			pr.Out.Host = t.BaseURL.Host
			pr.SetXForwarded()

			stripHopHeaders(pr.Out.Header)
			stripIdentityHeaders(pr.Out.Header)
			setTrustHeaders(pr.In.Context(), pr.Out.Header)
		},
		Transport: &breakerTransport{breaker: t.Breaker, next: rt.transport},
		ModifyResponse: func(resp *http.Response) error {
			stripHopHeaders(resp.Header)
			if ex := exchangeFrom(resp.Request.Context()); ex != nil {
				ex.upstream = resp.StatusCode
				if resp.StatusCode >= http.StatusBadRequest {
					ex.outcome = OutcomeDownstreamError
				}
			}
			return nil
		},
		ErrorHandler: rt.handleError,
		ErrorLog:     slog.NewLogLogger(rt.logger.Handler(), slog.LevelWarn),
	}
}

func setTrustHeaders(ctx context.Context, h http.Header) {
	caller := requestcontext.Caller(ctx)
	h.Set("X-User-ID", caller.UserID)
	h.Set("X-User-Role", caller.Role)
	h.Set("X-User-Department", caller.Department)
	h.Set("X-User-Permissions", strings.Join(caller.Permissions, ","))
	if id := requestcontext.RequestID(ctx); id != "" {
		h.Set("X-Request-ID", id)
	}
	h.Set("X-Gateway", "medgate")
}

// handleError maps transport failures to gateway responses.
func (rt *Router) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ex := exchangeFrom(r.Context())
	name := "unknown"
	if ex != nil {
		name = ex.target.Name
	}

	var derr *dErrors.Error
	outcome := OutcomeUnavailable
	switch {
	case errors.Is(err, circuit.ErrOpen):
		outcome = OutcomeCircuitOpen
		derr = dErrors.Wrap(err, dErrors.CodeCircuitOpen, fmt.Sprintf("Service %s is temporarily unavailable", name))
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(r.Context().Err(), context.DeadlineExceeded):
		outcome = OutcomeTimeout
		derr = dErrors.Wrap(err, dErrors.CodeTimeout, fmt.Sprintf("Service %s did not respond in time", name))
	default:
		derr = dErrors.Wrap(err, dErrors.CodeServiceUnavailable, fmt.Sprintf("Service %s is unavailable", name))
	}
	if ex != nil {
		ex.outcome = outcome
		ex.err = err
	}

	rt.logger.WarnContext(r.Context(), "proxy call failed",
		"target", name,
		"outcome", outcome,
		"error", err,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	platformhttp.WriteError(w, derr)
}

// finish records the audit entry and metrics for a completed call.
func (rt *Router) finish(ctx context.Context, r *http.Request, ex *exchange, status int, elapsed time.Duration) {
	if status == 0 {
		status = http.StatusOK
	}
	rt.metrics.ObserveCall(ex.target.Name, ex.outcome, status, elapsed)

	if rt.recorder == nil {
		return
	}
	entry := audit.Entry{
		Resource:       ex.target.Name,
		ResourceID:     resourceID(ex.path),
		Method:         r.Method,
		Endpoint:       r.URL.Path,
		ResponseStatus: status,
		DurationMS:     elapsed.Milliseconds(),
	}
	switch ex.outcome {
	case OutcomeForbidden:
		entry.Action = audit.ActionUnauthorizedAccess
		entry.RiskLevel = audit.RiskHigh
		entry.Description = fmt.Sprintf("Access to %s denied: missing required permission", ex.target.Name)
	case OutcomeSuccess:
		if targets.IsHealthEndpoint(ex.path) {
			return
		}
		entry.Action = audit.AccessedAction(ex.target.Name)
		entry.RiskLevel = accessRisk(r.Method)
		entry.Description = fmt.Sprintf("%s %s", r.Method, r.URL.Path)
	default:
		entry.Action = audit.ActionServiceError
		entry.RiskLevel = audit.RiskMedium
		entry.Description = serviceErrorDescription(ex, status)
	}
	// Detached so a cancelled request still leaves its trail.
	rt.recorder.Record(context.WithoutCancel(ctx), entry)
}

func accessRisk(method string) audit.RiskLevel {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return audit.RiskLow
	}
	return audit.RiskMedium
}

func serviceErrorDescription(ex *exchange, status int) string {
	if ex.outcome == OutcomeDownstreamError {
		return fmt.Sprintf("Service %s returned %d", ex.target.Name, ex.upstream)
	}
	if ex.err != nil {
		return fmt.Sprintf("Service %s call failed (%s): %v", ex.target.Name, ex.outcome, ex.err)
	}
	return fmt.Sprintf("Service %s call failed with %d", ex.target.Name, status)
}

// resourceID is the first path segment below the route prefix, e.g. the
// report id in /reports/123/pdf.
func resourceID(path string) string {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return first
}
