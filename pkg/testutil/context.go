package testutil

import (
	"net/http"

	"medgate/pkg/requestcontext"
)

// WithIdentity adds a caller identity to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithIdentity(req *http.Request, ident requestcontext.Identity) *http.Request {
	return req.WithContext(requestcontext.WithIdentity(req.Context(), ident))
}

// AsUser authenticates req as userID with role and optional permissions.
func AsUser(req *http.Request, userID, role string, permissions ...string) *http.Request {
	return WithIdentity(req, requestcontext.Identity{
		UserID:      userID,
		Role:        role,
		Permissions: permissions,
	})
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
