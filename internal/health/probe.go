package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"medgate/internal/targets"
	"medgate/pkg/platform/circuit"
)

// Probe is a single bounded-time liveness check.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// BreakerReporter is implemented by probes whose target has a circuit breaker.
type BreakerReporter interface {
	BreakerState() circuit.State
}

// TimeoutReporter is implemented by probes with their own deadline. The
// aggregator uses the shorter of it and the probe timeout.
type TimeoutReporter interface {
	Timeout() time.Duration
}

// HTTPProbe checks a target's health endpoint. Any 2xx is healthy. Probes do
// not go through the breaker, so monitoring traffic never trips it.
type HTTPProbe struct {
	target *targets.Target
	client *http.Client
}

// NewHTTPProbe creates a probe for target. A nil client uses http.DefaultClient.
func NewHTTPProbe(target *targets.Target, client *http.Client) *HTTPProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProbe{target: target, client: client}
}

func (p *HTTPProbe) Name() string {
	return p.target.Name
}

func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target.HealthURL(), nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("X-Gateway", "medgate")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProbe) BreakerState() circuit.State {
	return p.target.Breaker.State()
}

// Timeout is the target's request timeout.
func (p *HTTPProbe) Timeout() time.Duration {
	return p.target.Timeout
}

// FuncProbe adapts a ping function, such as a Redis or Postgres client's, into
// a Probe.
type FuncProbe struct {
	name string
	fn   func(context.Context) error
}

// NewFuncProbe creates a probe named name that calls fn.
func NewFuncProbe(name string, fn func(context.Context) error) *FuncProbe {
	return &FuncProbe{name: name, fn: fn}
}

func (p *FuncProbe) Name() string {
	return p.name
}

func (p *FuncProbe) Check(ctx context.Context) error {
	return p.fn(ctx)
}
