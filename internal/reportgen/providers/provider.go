// Package providers adapts the report-generation backends (a local
// OpenAI-compatible model server and the Claude, Gemini and OpenAI cloud APIs)
// to one completion contract and one failure taxonomy.
package providers

import (
	"context"
	"strings"
	"time"

	"medgate/pkg/platform/circuit"
)

// Kind identifies a provider family.
type Kind string

const (
	KindLocal  Kind = "local"
	KindClaude Kind = "claude"
	KindGemini Kind = "gemini"
	KindOpenAI Kind = "openai"
)

// Kinds lists every supported provider family.
var Kinds = []Kind{KindLocal, KindClaude, KindGemini, KindOpenAI}

// ParseKind accepts any casing of a known provider name.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindLocal, KindClaude, KindGemini, KindOpenAI:
		return k, true
	}
	return "", false
}

// IsCloud reports whether the provider sends data off-site.
func (k Kind) IsCloud() bool {
	return k != KindLocal
}

// Prompt is one completion request.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Completion is the raw model output.
type Completion struct {
	Text  string
	Model string
}

// Client performs one completion. Implementations return *ProviderError.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
}

// Provider is one configured backend. A nil Client means the provider has no
// credentials and is never planned.
type Provider struct {
	Kind    Kind
	Name    string
	Model   string
	Timeout time.Duration
	Breaker *circuit.Breaker
	Client  Client
}

// Available reports whether the provider can be called.
func (p Provider) Available() bool {
	return p.Client != nil
}
