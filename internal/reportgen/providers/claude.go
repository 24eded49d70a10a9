package providers

import (
	"context"
	"net/http"
	"strings"
)

const (
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 2048
	DefaultClaudeURL = "https://api.anthropic.com"
	DefaultGeminiURL = "https://generativelanguage.googleapis.com"
)

// ClaudeClient calls the Anthropic Messages API.
type ClaudeClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClaudeClient creates a client. An empty baseURL uses the public API.
func NewClaudeClient(apiKey, baseURL, model string, httpClient *http.Client) *ClaudeClient {
	if baseURL == "" {
		baseURL = DefaultClaudeURL
	}
	return &ClaudeClient{apiKey: apiKey, baseURL: baseURL, model: model, http: defaultHTTPClient(httpClient)}
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *ClaudeClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := claudeRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    p.System,
		Messages:  []claudeMessage{{Role: "user", Content: p.User}},
	}
	if p.Temperature > 0 {
		req.Temperature = &p.Temperature
	}

	var resp claudeResponse
	err := postJSON(ctx, c.http, string(KindClaude), joinURL(c.baseURL, "/v1/messages"), map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}, req, &resp)
	if err != nil {
		return Completion{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Completion{}, emptyCompletion(string(KindClaude))
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{Text: text.String(), Model: model}, nil
}
