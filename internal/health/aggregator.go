// Package health fans out liveness probes to every dependency and reduces them
// to a single report. A slow or hung dependency is reported unhealthy at the
// probe deadline without delaying the others.
package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"medgate/pkg/platform/circuit"
)

const DefaultProbeTimeout = 5 * time.Second

// Status is the health of one service or of the whole gateway.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ServiceStatus is the result of one probe.
type ServiceStatus struct {
	Name                string         `json:"name"`
	Status              Status         `json:"status"`
	ResponseTime        int64          `json:"responseTime"`
	CircuitBreakerState *circuit.State `json:"circuitBreakerState,omitempty"`
	Error               string         `json:"error,omitempty"`
}

// Summary counts probe outcomes.
type Summary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// Report is the aggregate of every probe. It is derived on demand and never
// stored.
type Report struct {
	Status    Status          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Services  []ServiceStatus `json:"services"`
	Summary   Summary         `json:"summary"`
}

// Healthy reports whether every probe passed.
func (r Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// ErrProbeTimeout is reported for a probe that did not finish before its
// deadline.
var ErrProbeTimeout = errors.New("health probe timed out")

// Aggregator runs probes concurrently.
type Aggregator struct {
	probes  []Probe
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
	clock   func() time.Time
	flight  singleflight.Group
}

// Option configures the Aggregator.
type Option func(*Aggregator)

func WithProbeTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewAggregator creates an aggregator over probes. The report lists services
// in the order given.
func NewAggregator(probes []Probe, opts ...Option) *Aggregator {
	a := &Aggregator{
		probes:  probes,
		timeout: DefaultProbeTimeout,
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckAll probes every dependency. Concurrent callers share one in-flight
// run; a caller whose ctx ends first gets a report marking every service as
// timed out rather than waiting.
func (a *Aggregator) CheckAll(ctx context.Context) Report {
	ch := a.flight.DoChan("check-all", func() (any, error) {
		// Detached so one caller's cancellation does not fail the shared run.
		return a.run(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Report)
	case <-ctx.Done():
		return a.abandoned(ctx.Err())
	}
}

func (a *Aggregator) run(ctx context.Context) Report {
	results := make([]ServiceStatus, len(a.probes))

	var g errgroup.Group
	for i, p := range a.probes {
		g.Go(func() error {
			results[i] = a.check(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report := a.reduce(results)
	a.metrics.SetDegraded(!report.Healthy())
	return report
}

// check runs one probe, abandoning it at the deadline even if it ignores ctx.
func (a *Aggregator) check(ctx context.Context, p Probe) ServiceStatus {
	timeout := a.timeout
	if tr, ok := p.(TimeoutReporter); ok {
		if d := tr.Timeout(); d > 0 && d < timeout {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := a.clock()
	done := make(chan error, 1)
	go func() {
		done <- p.Check(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ErrProbeTimeout
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = ErrProbeTimeout
	}
	elapsed := a.clock().Sub(start)

	st := ServiceStatus{
		Name:         p.Name(),
		Status:       StatusHealthy,
		ResponseTime: elapsed.Milliseconds(),
	}
	if br, ok := p.(BreakerReporter); ok {
		state := br.BreakerState()
		st.CircuitBreakerState = &state
	}
	if err != nil {
		st.Status = StatusUnhealthy
		st.Error = err.Error()
		a.logger.WarnContext(ctx, "health probe failed",
			"target", p.Name(),
			"duration_ms", st.ResponseTime,
			"error", err,
		)
	}
	a.metrics.ObserveProbe(p.Name(), st.Status, elapsed)
	return st
}

func (a *Aggregator) reduce(results []ServiceStatus) Report {
	r := Report{
		Status:    StatusHealthy,
		Timestamp: a.clock().UTC(),
		Services:  results,
		Summary:   Summary{Total: len(results)},
	}
	for _, s := range results {
		if s.Status == StatusHealthy {
			r.Summary.Healthy++
			continue
		}
		r.Summary.Unhealthy++
		r.Status = StatusDegraded
	}
	return r
}

func (a *Aggregator) abandoned(cause error) Report {
	results := make([]ServiceStatus, len(a.probes))
	for i, p := range a.probes {
		results[i] = ServiceStatus{Name: p.Name(), Status: StatusUnhealthy, Error: cause.Error()}
	}
	return a.reduce(results)
}
