package request

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"medgate/pkg/requestcontext"
)

func serve(header string) (string, *httptest.ResponseRecorder) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(HeaderRequestID, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec
}

func TestRequestID_PropagatesValidHeader(t *testing.T) {
	seen, rec := serve("req-123")
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))
}

func TestRequestID_GeneratesWhenMissingOrInvalid(t *testing.T) {
	for _, header := range []string{"", "bad id with spaces", "<script>"} {
		seen, rec := serve(header)
		_, err := uuid.Parse(seen)
		assert.NoError(t, err, "header %q", header)
		assert.Equal(t, seen, rec.Header().Get(HeaderRequestID))
	}
}
