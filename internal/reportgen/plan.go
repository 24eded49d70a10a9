package reportgen

import (
	"slices"

	"medgate/internal/reportgen/providers"
)

// DefaultRanking is the cloud provider order when none is configured.
var DefaultRanking = []providers.Kind{providers.KindClaude, providers.KindOpenAI, providers.KindGemini}

// Catalog holds the configured providers and the cloud ranking.
type Catalog struct {
	byKind  map[providers.Kind]providers.Provider
	ranking []providers.Kind
}

// NewCatalog creates a catalog. Cloud kinds missing from ranking are appended
// in DefaultRanking order; the local kind in ranking is ignored.
func NewCatalog(ranking []providers.Kind, ps ...providers.Provider) *Catalog {
	c := &Catalog{byKind: make(map[providers.Kind]providers.Provider, len(ps))}
	for _, p := range ps {
		c.byKind[p.Kind] = p
	}
	for _, k := range append(slices.Clone(ranking), DefaultRanking...) {
		if k.IsCloud() && !slices.Contains(c.ranking, k) {
			c.ranking = append(c.ranking, k)
		}
	}
	return c
}

// Get returns the provider of kind k.
func (c *Catalog) Get(k providers.Kind) (providers.Provider, bool) {
	p, ok := c.byKind[k]
	return p, ok
}

// Plan orders the available providers for in. Local mode tries the local
// provider first and then the cloud ranking; otherwise the cloud ranking comes
// first and local is the last resort. A preferred provider moves to the front.
// Providers without credentials are left out.
func (c *Catalog) Plan(in Input) []providers.Provider {
	var order []providers.Kind
	if in.ProcessingMode == ModeLocal {
		order = append([]providers.Kind{providers.KindLocal}, c.ranking...)
	} else {
		order = append(slices.Clone(c.ranking), providers.KindLocal)
	}
	if k, ok := providers.ParseKind(in.PreferredProvider); ok {
		if i := slices.Index(order, k); i > 0 {
			order = append([]providers.Kind{k}, slices.Delete(order, i, i+1)...)
		}
	}

	plan := make([]providers.Provider, 0, len(order))
	for _, k := range order {
		if p, ok := c.byKind[k]; ok && p.Available() {
			plan = append(plan, p)
		}
	}
	return plan
}
