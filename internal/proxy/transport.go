package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medgate/pkg/platform/circuit"
)

// upstreamStatusError marks a 5xx response as a breaker failure. The response
// itself is still returned to the client.
type upstreamStatusError struct {
	code int
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.code)
}

// breakerTransport runs every round trip through one target's breaker.
// Transport errors and 5xx responses count as failures; 4xx count as success.
type breakerTransport struct {
	breaker *circuit.Breaker
	next    http.RoundTripper
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := t.breaker.Execute(req.Context(), func(_ context.Context) error {
		r, err := t.next.RoundTrip(req)
		if err != nil {
			return err
		}
		resp = r
		if r.StatusCode >= http.StatusInternalServerError {
			return &upstreamStatusError{code: r.StatusCode}
		}
		return nil
	})
	var statusErr *upstreamStatusError
	if errors.As(err, &statusErr) {
		return resp, nil
	}
	return resp, err
}

// Hop-by-hop headers, which apply to a single connection and are never
// forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// stripIdentityHeaders removes client-supplied X-User-* headers so only the
// gateway can assert identity downstream.
func stripIdentityHeaders(h http.Header) {
	for name := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(name), "X-User-") {
			delete(h, name)
		}
	}
}
