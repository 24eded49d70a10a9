// Package auth authenticates bearer tokens and guards routes by role or
// permission. Every rejection is written to the audit trail.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dErrors "medgate/pkg/domain-errors"
	audit "medgate/pkg/platform/audit"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/requestcontext"
)

// TokenValidator validates a bearer token and returns the caller identity.
type TokenValidator interface {
	ValidateToken(tokenString string) (requestcontext.Identity, error)
}

// RequireAuth rejects requests without a valid bearer token with 401 and an
// AUTHENTICATION_FAILED entry.
func RequireAuth(validator TokenValidator, recorder audit.Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				reject(w, r, recorder, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			ident, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				reject(w, r, recorder, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			ctx = requestcontext.WithIdentity(ctx, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Policy admits a caller holding any listed role or any listed permission.
// An empty policy admits every authenticated caller.
type Policy struct {
	Roles       []string
	Permissions []string
}

// Allows reports whether ident satisfies the policy.
func (p Policy) Allows(ident requestcontext.Identity) bool {
	if len(p.Roles) == 0 && len(p.Permissions) == 0 {
		return true
	}
	if len(p.Roles) > 0 && ident.HasRole(p.Roles...) {
		return true
	}
	return len(p.Permissions) > 0 && ident.HasAnyPermission(p.Permissions...)
}

// RequireAccess rejects callers outside policy with 403 and an
// UNAUTHORIZED_ACCESS entry. It must run after RequireAuth.
func RequireAccess(policy Policy, recorder audit.Recorder, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller := requestcontext.Caller(ctx)
			if caller.IsZero() || !policy.Allows(caller) {
				logger.WarnContext(ctx, "forbidden access",
					"user_id", caller.UserID,
					"role", caller.Role,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				reject(w, r, recorder, dErrors.New(dErrors.CodeForbidden, "Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, recorder audit.Recorder, err *dErrors.Error) {
	status := dErrors.StatusFor(err.Code)
	entry := audit.Entry{
		Action:         audit.ActionAuthenticationFailed,
		Resource:       ResourceOf(r.URL.Path),
		Description:    fmt.Sprintf("%s %s: %s", r.Method, r.URL.Path, err.Message),
		Method:         r.Method,
		Endpoint:       r.URL.Path,
		ResponseStatus: status,
		DurationMS:     elapsedMS(r),
		RiskLevel:      audit.RiskHigh,
	}
	if err.Code == dErrors.CodeForbidden {
		entry.Action = audit.ActionUnauthorizedAccess
	}
	if recorder != nil {
		recorder.Record(r.Context(), entry)
	}
	httputil.WriteError(w, err)
}

// ResourceOf names the resource a path addresses: its first segment.
func ResourceOf(path string) string {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if first == "" {
		return "gateway"
	}
	return first
}

func elapsedMS(r *http.Request) int64 {
	return time.Since(requestcontext.Now(r.Context())).Milliseconds()
}
