// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; proxy, report generation and audit code read
// them without importing net/http.
//
//	caller := requestcontext.Caller(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithIdentity(ctx, requestcontext.Identity{UserID: "u-1", Role: "physician"})
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"slices"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	identityKey    struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Identity is the verified caller as issued by the identity provider.
type Identity struct {
	UserID      string
	Role        string
	Department  string
	Permissions []string
}

// IsZero reports whether no caller has been authenticated.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// HasAnyPermission reports whether the caller holds at least one of perms.
// An empty perms list is always satisfied.
func (i Identity) HasAnyPermission(perms ...string) bool {
	if len(perms) == 0 {
		return true
	}
	for _, p := range perms {
		if slices.Contains(i.Permissions, p) {
			return true
		}
	}
	return false
}

// HasRole reports whether the caller's role is one of roles.
func (i Identity) HasRole(roles ...string) bool {
	return i.Role != "" && slices.Contains(roles, i.Role)
}

// -----------------------------------------------------------------------------
// Caller identity
// -----------------------------------------------------------------------------

// Caller retrieves the authenticated identity, or the zero Identity.
func Caller(ctx context.Context) Identity {
	if ident, ok := ctx.Value(identityKey{}).(Identity); ok {
		return ident
	}
	return Identity{}
}

// UserID is shorthand for Caller(ctx).UserID.
func UserID(ctx context.Context) string {
	return Caller(ctx).UserID
}

// WithIdentity injects the caller identity into the context.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	ctx = context.WithValue(ctx, userAgentKey{}, userAgent)
	return ctx
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
