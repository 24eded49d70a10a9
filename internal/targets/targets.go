// Package targets holds the immutable set of downstream services the gateway
// fronts, each paired with its circuit breaker.
package targets

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"medgate/internal/platform/config"
	"medgate/pkg/platform/circuit"
	pstrings "medgate/pkg/platform/strings"
	"medgate/pkg/requestcontext"
)

// Target is one downstream service.
type Target struct {
	Name                string
	BaseURL             *url.URL
	RoutePrefix         string
	HealthPath          string
	Timeout             time.Duration
	RequiredPermissions []string
	Breaker             *circuit.Breaker
}

// Authorize reports whether the caller holds one of the target's required
// permissions. Targets without requirements admit every authenticated caller.
func (t *Target) Authorize(id requestcontext.Identity) bool {
	if len(t.RequiredPermissions) == 0 {
		return true
	}
	return id.HasAnyPermission(t.RequiredPermissions...)
}

// HealthURL is the address the health probe calls.
func (t *Target) HealthURL() string {
	u := *t.BaseURL
	u.Path = singleJoiningSlash(u.Path, t.HealthPath)
	u.RawPath = ""
	return u.String()
}

// Proxied reports whether the target is reachable through the router.
func (t *Target) Proxied() bool {
	return t.RoutePrefix != ""
}

// StripPrefix removes the route prefix from an inbound path. The result always
// starts with "/".
func (t *Target) StripPrefix(path string) string {
	rest := strings.TrimPrefix(path, t.RoutePrefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// Registry is the configured set of targets. It is read-only after New.
type Registry struct {
	ordered  []*Target
	byName   map[string]*Target
	breakers *circuit.Group
}

// New builds a registry from validated configuration, creating one breaker per
// target with the given extra options (clock, failure predicate).
func New(cfgs []config.TargetConfig, opts ...circuit.Option) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*Target, len(cfgs)),
		breakers: circuit.NewGroup(),
	}
	for _, c := range cfgs {
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("target %s: duplicate name", c.Name)
		}
		base, err := url.Parse(c.BaseURL)
		if err != nil || base.Scheme == "" || base.Host == "" {
			return nil, fmt.Errorf("target %s: invalid base URL %q", c.Name, c.BaseURL)
		}
		healthPath := c.HealthPath
		if healthPath == "" {
			healthPath = "/health"
		}

		breakerOpts := append([]circuit.Option{
			circuit.WithErrorThresholdPercentage(c.Breaker.ErrorThresholdPercentage),
			circuit.WithResetTimeout(c.Breaker.ResetTimeout),
			circuit.WithRollingWindow(c.Breaker.RollingCountTimeout, c.Breaker.RollingCountBuckets),
			circuit.WithVolumeThreshold(c.Breaker.VolumeThreshold),
		}, opts...)

		t := &Target{
			Name:                c.Name,
			BaseURL:             base,
			RoutePrefix:         strings.TrimRight(c.RoutePrefix, "/"),
			HealthPath:          healthPath,
			Timeout:             c.Timeout,
			RequiredPermissions: pstrings.DedupeAndTrim(c.RequiredPermissions),
			Breaker:             circuit.New(c.Name, breakerOpts...),
		}
		r.ordered = append(r.ordered, t)
		r.byName[t.Name] = t
		r.breakers.Add(t.Breaker)
	}
	return r, nil
}

// Get looks up a target by name.
func (r *Registry) Get(name string) (*Target, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// All returns every target in configuration order.
func (r *Registry) All() []*Target {
	return slices.Clone(r.ordered)
}

// Proxied returns the targets that have a route prefix.
func (r *Registry) Proxied() []*Target {
	var out []*Target
	for _, t := range r.ordered {
		if t.Proxied() {
			out = append(out, t)
		}
	}
	return out
}

// Breakers returns the group holding every target breaker.
func (r *Registry) Breakers() *circuit.Group {
	return r.breakers
}

var healthEndpoints = []string{"/health", "/metrics", "/ready", "/live"}

// IsHealthEndpoint reports whether path (with the route prefix already
// stripped) is a monitoring endpoint whose access is not audited.
func IsHealthEndpoint(path string) bool {
	for _, p := range healthEndpoints {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
