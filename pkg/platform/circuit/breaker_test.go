package circuit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream failed")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func succeed(context.Context) error { return nil }
func fail(context.Context) error    { return errDownstream }

func newTestBreaker(clock *fakeClock, opts ...Option) *Breaker {
	base := []Option{
		WithErrorThresholdPercentage(50),
		WithRollingWindow(10*time.Second, 10),
		WithVolumeThreshold(10),
		WithResetTimeout(30 * time.Second),
		WithClock(clock.Now),
	}
	return New("reports", append(base, opts...)...)
}

func tripOpen(t *testing.T, b *Breaker) {
	t.Helper()
	for range 4 {
		require.NoError(t, b.Execute(context.Background(), succeed))
	}
	for range 6 {
		require.ErrorIs(t, b.Execute(context.Background(), fail), errDownstream)
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreaker_InitialState(t *testing.T) {
	b := New("test")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "test", b.Name())
	assert.Nil(t, b.Snapshot().OpenedAt)
}

func TestBreaker_OpensWhenErrorPercentageExceeded(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	tripOpen(t, b)

	var invoked atomic.Int32
	start := time.Now()
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked.Add(1)
		return nil
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrOpen)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "reports", openErr.Name)
	assert.Equal(t, 30*time.Second, openErr.RetryAfter)
	assert.Zero(t, invoked.Load(), "operation must not run while open")
	assert.Less(t, elapsed, 5*time.Millisecond)

	snap := b.Snapshot()
	require.NotNil(t, snap.OpenedAt)
	assert.Equal(t, clock.Now(), *snap.OpenedAt)
	assert.Equal(t, 6, snap.Stats.Failures)
	assert.Equal(t, 1, snap.Stats.Rejects)
	assert.InDelta(t, 60.0, snap.Stats.ErrorPercentage, 0.001)
}

func TestBreaker_StaysClosedAtThreshold(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for range 5 {
		_ = b.Execute(context.Background(), fail)
	}
	for range 5 {
		_ = b.Execute(context.Background(), succeed)
	}

	assert.Equal(t, StateClosed, b.State(), "an even split does not exceed the threshold")
}

func TestBreaker_VolumeThresholdGatesEvaluation(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for range 9 {
		_ = b.Execute(context.Background(), fail)
	}
	assert.Equal(t, StateClosed, b.State(), "9 calls are below the volume threshold")

	_ = b.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_FailuresAgeOutOfWindow(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)

	for range 6 {
		_ = b.Execute(context.Background(), fail)
	}
	clock.Advance(11 * time.Second)
	for range 10 {
		require.NoError(t, b.Execute(context.Background(), succeed))
	}

	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Snapshot().Stats.Failures)
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(t, b)
	clock.Advance(30 * time.Second)

	const callers = 8
	var (
		invoked atomic.Int32
		gate    sync.WaitGroup
	)
	release := make(chan struct{})
	results := make(chan error, callers)
	gate.Add(1)
	for range callers {
		go func() {
			gate.Wait()
			results <- b.Execute(context.Background(), func(context.Context) error {
				invoked.Add(1)
				<-release
				return nil
			})
		}()
	}
	gate.Done()

	for range callers - 1 {
		assert.ErrorIs(t, <-results, ErrOpen)
	}
	assert.Equal(t, StateHalfOpen, b.State())
	close(release)
	require.NoError(t, <-results)

	assert.Equal(t, int32(1), invoked.Load())
	assert.Equal(t, StateClosed, b.State())
	snap := b.Snapshot()
	assert.Zero(t, snap.Stats.Failures)
	assert.Zero(t, snap.Stats.Rejects)
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	tripOpen(t, b)

	clock.Advance(30 * time.Second)
	require.ErrorIs(t, b.Execute(context.Background(), fail), errDownstream)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clock.Now(), *b.Snapshot().OpenedAt, "openedAt restarts the timer")

	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Execute(context.Background(), succeed), ErrOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_PanicCountsAsFailure(t *testing.T) {
	b := newTestBreaker(newFakeClock(), WithVolumeThreshold(1))

	assert.Panics(t, func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			panic("boom")
		})
	})

	snap := b.Snapshot()
	assert.Equal(t, 1, snap.Stats.Failures)
	assert.Equal(t, StateOpen, snap.State)
}

func TestBreaker_FailurePredicate(t *testing.T) {
	ignored := errors.New("client error")
	b := newTestBreaker(newFakeClock(),
		WithVolumeThreshold(1),
		WithFailurePredicate(func(err error) bool { return err != nil && !errors.Is(err, ignored) }),
	)

	err := b.Execute(context.Background(), func(context.Context) error { return ignored })
	assert.ErrorIs(t, err, ignored)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Snapshot().Stats.Successes)
}

func TestBreaker_SubscribeReceivesTransitions(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	ch, cancel := b.Subscribe(4)
	defer cancel()

	tripOpen(t, b)
	clock.Advance(30 * time.Second)
	require.NoError(t, b.Execute(context.Background(), succeed))

	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	for _, w := range want {
		select {
		case tr := <-ch:
			assert.Equal(t, "reports", tr.Name)
			assert.Equal(t, w.from, tr.From)
			assert.Equal(t, w.to, tr.To)
		case <-time.After(time.Second):
			t.Fatalf("missing transition %s -> %s", w.from, w.to)
		}
	}
}

func TestBreaker_SubscribeDropsWhenFull(t *testing.T) {
	clock := newFakeClock()
	b := newTestBreaker(clock)
	_, cancel := b.Subscribe(1)
	defer cancel()

	tripOpen(t, b)
	b.Reset()

	assert.Equal(t, 1, b.DroppedTransitions())
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(newFakeClock())
	tripOpen(t, b)

	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Snapshot().Stats.Fires)
	assert.NoError(t, b.Execute(context.Background(), succeed))
}

func TestGroup_SnapshotsSortedAndWatch(t *testing.T) {
	clock := newFakeClock()
	reports := newTestBreaker(clock)
	transcription := New("transcription", WithClock(clock.Now))
	g := NewGroup(reports, transcription)

	snaps := g.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "reports", snaps[0].Name)
	assert.Equal(t, "transcription", snaps[1].Name)

	got, ok := g.Get("transcription")
	require.True(t, ok)
	assert.Same(t, transcription, got)

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan Transition, 64)
	done := make(chan struct{})
	go func() {
		g.Watch(ctx, func(tr Transition) { seen <- tr })
		close(done)
	}()

	// Watch subscribes asynchronously; retry the trip until it is observed.
	require.Eventually(t, func() bool {
		reports.Reset()
		for range 10 {
			_ = reports.Execute(context.Background(), fail)
		}
		select {
		case tr := <-seen:
			return tr.Name == "reports" && tr.To == StateOpen
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
