package reportgen

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate/internal/reportgen/providers"
	"medgate/pkg/testutil"
)

type generatorFunc func(ctx context.Context, in Input, key string) (Result, error)

func (f generatorFunc) GenerateReport(ctx context.Context, in Input, key string) (Result, error) {
	return f(ctx, in, key)
}

func serve(t *testing.T, g Generator, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(g, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	req := httptest.NewRequest(http.MethodPost, "/generate-report", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req = testutil.AsUser(req, "u1", "doctor")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Generate(t *testing.T) {
	var gotKey string
	var gotIn Input
	g := generatorFunc(func(_ context.Context, in Input, key string) (Result, error) {
		gotIn, gotKey = in, key
		return Result{Findings: "Clear.", Provider: "claude", Metadata: Metadata{AIGenerated: true, ProcessingMode: ModeCloud}}, nil
	})

	rec := serve(t, g, `{"transcriptionText":"clear lungs","reportType":"chest","preferredProvider":"claude"}`,
		map[string]string{HeaderIdempotencyKey: "abc"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", gotKey)
	assert.Equal(t, "chest", gotIn.ReportType)
	assert.Equal(t, "claude", gotIn.PreferredProvider)

	var res Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "Clear.", res.Findings)
	assert.True(t, res.Metadata.AIGenerated)
}

func TestHandler_FallbackIsStillOK(t *testing.T) {
	svc := NewService(NewCatalog(nil,
		provider(providers.KindClaude, failing(providers.StatusError("claude", 503, ""))),
	), NewOrchestrator(nil))

	rec := serve(t, svc, `{"transcriptionText":"Patient stable."}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var res Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, FallbackProvider, res.Provider)
	assert.Equal(t, "Patient stable.", res.Findings)
	assert.False(t, res.Metadata.AIGenerated)
}

func TestHandler_ValidationErrors(t *testing.T) {
	svc := NewService(NewCatalog(nil), NewOrchestrator(nil))

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "malformed JSON", body: `{"transcriptionText":`},
		{name: "missing transcription", body: `{"reportType":"chest"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, svc, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body["code"])
		})
	}
}

func TestHandler_ResponseShape(t *testing.T) {
	svc := NewService(NewCatalog(nil, provider(providers.KindClaude, replying(validReport))), NewOrchestrator(nil))
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/generate-report", Input{TranscriptionText: "Lungs clear."})
	rec := testutil.DoRequest(r, testutil.AsUser(req, "u1", "doctor"))

	testutil.AssertStatus(t, rec, http.StatusOK)
	body := testutil.UnmarshalResponse[map[string]any](t, rec)
	for _, key := range []string{"findings", "impression", "recommendations", "provider", "model", "generatedAt", "metadata"} {
		assert.Contains(t, *body, key)
	}
}

func TestHandler_MetadataPresentOnFallback(t *testing.T) {
	svc := NewService(NewCatalog(nil), NewOrchestrator(nil))
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/generate-report", Input{TranscriptionText: "Stable."})
	rec := testutil.DoRequest(r, testutil.AsUser(req, "u1", "doctor"))

	testutil.AssertStatus(t, rec, http.StatusOK)
	testutil.AssertJSONHasKey(t, rec, "metadata")
}

func TestHandler_UnknownHintsStillOK(t *testing.T) {
	svc := NewService(NewCatalog(nil, provider(providers.KindClaude, replying(validReport))), NewOrchestrator(nil))

	rec := serve(t, svc, `{"transcriptionText":"x","processingMode":"quantum","preferredProvider":"llama"}`,
		map[string]string{HeaderIdempotencyKey: strings.Repeat("k", 300)})

	testutil.AssertStatus(t, rec, http.StatusOK)
	testutil.AssertJSONContains(t, rec, "provider", "claude")
}
