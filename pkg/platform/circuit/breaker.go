// Package circuit implements a rolling-window circuit breaker.
//
// A Breaker is owned by one downstream target and shared by every request to
// it. All state lives behind a single mutex; callers interact only through
// Execute, the read-only Snapshot, and Subscribe for transitions.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON bodies and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CLOSED":
		*s = StateClosed
	case "OPEN":
		*s = StateOpen
	case "HALF_OPEN":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown circuit state %q", b)
	}
	return nil
}

const (
	DefaultErrorThresholdPercentage = 50
	DefaultResetTimeout             = 30 * time.Second
	DefaultRollingCountTimeout      = 10 * time.Second
	DefaultRollingCountBuckets      = 10
	DefaultVolumeThreshold          = 10
)

// ErrOpen is matched by every rejection, in OPEN or during a HALF_OPEN trial.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by Execute when the call was rejected without running.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Transition describes one state change.
type Transition struct {
	Name string
	From State
	To   State
	At   time.Time
}

// Stats are the rolling-window counters.
type Stats struct {
	Fires           int     `json:"fires"`
	Successes       int     `json:"successes"`
	Failures        int     `json:"failures"`
	Rejects         int     `json:"rejects"`
	ErrorPercentage float64 `json:"errorPercentage"`
	MeanLatencyMs   float64 `json:"meanLatencyMs"`
}

// Snapshot is a point-in-time, read-only view of a breaker.
type Snapshot struct {
	Name           string     `json:"name"`
	State          State      `json:"state"`
	OpenedAt       *time.Time `json:"openedAt,omitempty"`
	LastTransition time.Time  `json:"lastTransition"`
	Stats          Stats      `json:"stats"`
}

type ticket struct {
	generation uint64
	trial      bool
}

// Breaker gates calls to one target.
type Breaker struct {
	name            string
	threshold       float64
	resetTimeout    time.Duration
	volumeThreshold int
	clock           func() time.Time
	isFailure       func(error) bool

	mu             sync.Mutex
	state          State
	openedAt       time.Time
	lastTransition time.Time
	trialInFlight  bool
	generation     uint64
	window         *window
	subs           map[int]chan Transition
	nextSub        int
	dropped        int
}

// Option configures a Breaker.
type Option func(*config)

type config struct {
	threshold       int
	resetTimeout    time.Duration
	rollingTimeout  time.Duration
	rollingBuckets  int
	volumeThreshold int
	clock           func() time.Time
	isFailure       func(error) bool
}

// WithErrorThresholdPercentage sets the failure percentage that must be exceeded to open.
func WithErrorThresholdPercentage(p int) Option {
	return func(c *config) {
		if p > 0 && p <= 100 {
			c.threshold = p
		}
	}
}

// WithResetTimeout sets how long the breaker stays OPEN before admitting a trial.
func WithResetTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.resetTimeout = d
		}
	}
}

// WithRollingWindow sets the statistics window and its bucket count.
func WithRollingWindow(timeout time.Duration, buckets int) Option {
	return func(c *config) {
		if timeout > 0 {
			c.rollingTimeout = timeout
		}
		if buckets > 0 {
			c.rollingBuckets = buckets
		}
	}
}

// WithVolumeThreshold sets the minimum number of calls in the window before
// the failure ratio is evaluated.
func WithVolumeThreshold(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.volumeThreshold = n
		}
	}
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithFailurePredicate decides which operation errors count as failures.
// The default counts every non-nil error.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(c *config) {
		if fn != nil {
			c.isFailure = fn
		}
	}
}

// New creates a CLOSED breaker.
func New(name string, opts ...Option) *Breaker {
	cfg := config{
		threshold:       DefaultErrorThresholdPercentage,
		resetTimeout:    DefaultResetTimeout,
		rollingTimeout:  DefaultRollingCountTimeout,
		rollingBuckets:  DefaultRollingCountBuckets,
		volumeThreshold: DefaultVolumeThreshold,
		clock:           time.Now,
		isFailure:       func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Breaker{
		name:            name,
		threshold:       float64(cfg.threshold),
		resetTimeout:    cfg.resetTimeout,
		volumeThreshold: cfg.volumeThreshold,
		clock:           cfg.clock,
		isFailure:       cfg.isFailure,
		state:           StateClosed,
		lastTransition:  cfg.clock(),
		window:          newWindow(cfg.rollingTimeout, cfg.rollingBuckets),
		subs:            make(map[int]chan Transition),
	}
}

// Name returns the breaker name (the target it guards).
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state without advancing OPEN to HALF_OPEN.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether calls are currently being rejected outright.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Execute runs op through the breaker. When the breaker rejects the call, op
// is not invoked and an *OpenError is returned. A panic in op is recorded as a
// failure and re-raised.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	t, err := b.acquire()
	if err != nil {
		return err
	}
	start := b.clock()
	completed := false
	defer func() {
		if !completed {
			b.complete(t, start, false)
		}
	}()

	opErr := op(ctx)
	completed = true
	b.complete(t, start, !b.isFailure(opErr))
	return opErr
}

func (b *Breaker) acquire() (ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	switch b.state {
	case StateOpen:
		if elapsed := now.Sub(b.openedAt); elapsed < b.resetTimeout {
			b.window.reject(now)
			return ticket{}, &OpenError{Name: b.name, State: StateOpen, RetryAfter: b.resetTimeout - elapsed}
		}
		b.transition(StateHalfOpen, now)
		b.trialInFlight = true
		return ticket{generation: b.generation, trial: true}, nil
	case StateHalfOpen:
		if b.trialInFlight {
			b.window.reject(now)
			return ticket{}, &OpenError{Name: b.name, State: StateHalfOpen}
		}
		b.trialInFlight = true
		return ticket{generation: b.generation, trial: true}, nil
	default:
		return ticket{generation: b.generation}, nil
	}
}

func (b *Breaker) complete(t ticket, start time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.generation != b.generation {
		return
	}
	now := b.clock()
	b.window.record(now, ok, now.Sub(start))

	if t.trial {
		b.trialInFlight = false
		if ok {
			b.window.reset()
			b.transition(StateClosed, now)
		} else {
			b.transition(StateOpen, now)
		}
		return
	}
	if b.state == StateClosed && b.shouldTrip(now) {
		b.transition(StateOpen, now)
	}
}

func (b *Breaker) shouldTrip(now time.Time) bool {
	t := b.window.totals(now)
	calls := t.successes + t.failures
	if calls == 0 || calls < b.volumeThreshold {
		return false
	}
	return float64(t.failures)*100/float64(calls) > b.threshold
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State, now time.Time) {
	from := b.state
	b.state = to
	b.lastTransition = now
	if to == StateOpen {
		b.openedAt = now
	} else {
		b.openedAt = time.Time{}
	}
	if from == to {
		return
	}
	tr := Transition{Name: b.name, From: from, To: to, At: now}
	for _, ch := range b.subs {
		select {
		case ch <- tr:
		default:
			b.dropped++
		}
	}
}

// Reset forces the breaker CLOSED and clears its statistics. Calls in flight
// at the time of the reset are not recorded.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.generation++
	b.trialInFlight = false
	b.window.reset()
	b.transition(StateClosed, b.clock())
}

// Snapshot returns the current state and rolling statistics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	t := b.window.totals(now)
	calls := t.successes + t.failures
	stats := Stats{
		Fires:     calls + t.rejects,
		Successes: t.successes,
		Failures:  t.failures,
		Rejects:   t.rejects,
	}
	if calls > 0 {
		stats.ErrorPercentage = float64(t.failures) * 100 / float64(calls)
		stats.MeanLatencyMs = float64(t.latency.Milliseconds()) / float64(calls)
	}
	snap := Snapshot{
		Name:           b.name,
		State:          b.state,
		LastTransition: b.lastTransition,
		Stats:          stats,
	}
	if b.state == StateOpen {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

// Subscribe returns a channel receiving every state transition. Delivery is
// non-blocking: transitions are dropped when the channel buffer is full. The
// returned func unsubscribes and closes the channel.
func (b *Breaker) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Transition, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// DroppedTransitions counts transitions lost to full subscriber buffers.
func (b *Breaker) DroppedTransitions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
