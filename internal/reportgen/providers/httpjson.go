package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxResponseBytes = 4 << 20

// postJSON sends body to url and decodes a 2xx response into out. Failures
// are returned as *ProviderError.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewProviderError(ErrorBadData, provider, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return NewProviderError(ErrorProviderOutage, provider, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Classify(provider, ctx.Err())
		}
		return NewProviderError(ErrorProviderOutage, provider, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Classify(provider, ctx.Err())
		}
		return NewProviderError(ErrorProviderOutage, provider, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusError(provider, resp.StatusCode, snippet(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewProviderError(ErrorBadData, provider, "decode response", err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{}
}

func emptyCompletion(provider string) error {
	return NewProviderError(ErrorBadData, provider, "empty completion", fmt.Errorf("no text in response"))
}
