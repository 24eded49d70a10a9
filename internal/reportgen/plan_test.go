package reportgen

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"medgate/internal/reportgen/providers"
)

func names(plan []providers.Provider) []string {
	out := make([]string, len(plan))
	for i, p := range plan {
		out[i] = p.Name
	}
	return out
}

func fullCatalog(ranking ...providers.Kind) *Catalog {
	var ps []providers.Provider
	for _, k := range providers.Kinds {
		ps = append(ps, provider(k, replying(validReport)))
	}
	return NewCatalog(ranking, ps...)
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		ranking []providers.Kind
		in      Input
		want    []string
	}{
		{
			name: "cloud mode uses the default ranking then local",
			in:   Input{},
			want: []string{"claude", "openai", "gemini", "local"},
		},
		{
			name: "local mode starts with local",
			in:   Input{ProcessingMode: ModeLocal},
			want: []string{"local", "claude", "openai", "gemini"},
		},
		{
			name:    "configured ranking is completed with missing kinds",
			ranking: []providers.Kind{providers.KindGemini, providers.KindLocal},
			in:      Input{ProcessingMode: ModeCloud},
			want:    []string{"gemini", "claude", "openai", "local"},
		},
		{
			name: "preferred provider moves to the front",
			in:   Input{PreferredProvider: "Gemini"},
			want: []string{"gemini", "claude", "openai", "local"},
		},
		{
			name: "preferred local in cloud mode",
			in:   Input{PreferredProvider: "local"},
			want: []string{"local", "claude", "openai", "gemini"},
		},
		{
			name: "unknown preferred provider is ignored",
			in:   Input{PreferredProvider: "llama"},
			want: []string{"claude", "openai", "gemini", "local"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, names(fullCatalog(tt.ranking...).Plan(tt.in)))
		})
	}
}

func TestPlan_SkipsProvidersWithoutCredentials(t *testing.T) {
	c := NewCatalog(nil,
		provider(providers.KindLocal, replying(validReport)),
		providers.Provider{Kind: providers.KindClaude, Name: "claude"},
		provider(providers.KindGemini, replying(validReport)),
	)

	assert.Equal(t, []string{"gemini", "local"}, names(c.Plan(Input{})))

	_, ok := c.Get(providers.KindOpenAI)
	assert.False(t, ok)
}
