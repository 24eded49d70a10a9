package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewGeminiClient creates a client. An empty baseURL uses the public API.
func NewGeminiClient(apiKey, baseURL, model string, httpClient *http.Client) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	return &GeminiClient{apiKey: apiKey, baseURL: baseURL, model: model, http: defaultHTTPClient(httpClient)}
}

type geminiRequest struct {
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	Contents          []geminiContent       `json:"contents"`
	GenerationConfig  *geminiGenerationConf `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConf struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float32 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	ModelVersion   string `json:"modelVersion,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

func (c *GeminiClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: p.User}}}},
	}
	if p.System != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: p.System}}}
	}
	if p.MaxTokens > 0 || p.Temperature > 0 {
		req.GenerationConfig = &geminiGenerationConf{MaxOutputTokens: p.MaxTokens, Temperature: p.Temperature}
	}

	endpoint := joinURL(c.baseURL, fmt.Sprintf("/v1beta/models/%s:generateContent", url.PathEscape(c.model)))
	var resp geminiResponse
	err := postJSON(ctx, c.http, string(KindGemini), endpoint, map[string]string{
		"x-goog-api-key": c.apiKey,
	}, req, &resp)
	if err != nil {
		return Completion{}, err
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Completion{}, NewProviderError(ErrorBadData, string(KindGemini), "prompt blocked: "+resp.PromptFeedback.BlockReason, nil)
	}
	var text strings.Builder
	if len(resp.Candidates) > 0 {
		for _, part := range resp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Completion{}, emptyCompletion(string(KindGemini))
	}
	model := resp.ModelVersion
	if model == "" {
		model = c.model
	}
	return Completion{Text: text.String(), Model: model}, nil
}
