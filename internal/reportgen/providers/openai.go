package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to the OpenAI chat completions API, or to any
// OpenAI-compatible server (the local model server) when BaseURL is set.
type OpenAIClient struct {
	name   string
	model  string
	client *openai.Client
}

// NewOpenAIClient creates a client. An empty baseURL uses api.openai.com.
func NewOpenAIClient(name, apiKey, baseURL, model string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{name: name, model: model, client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, c.mapError(ctx, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Completion{}, NewProviderError(ErrorBadData, c.name, "empty completion", nil)
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

func (c *OpenAIClient) mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return Classify(c.name, ctx.Err())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := StatusError(c.name, apiErr.HTTPStatusCode, apiErr.Message)
		pe.Underlying = err
		return pe
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		pe := StatusError(c.name, reqErr.HTTPStatusCode, "")
		pe.Underlying = err
		return pe
	}
	return Classify(c.name, err)
}
