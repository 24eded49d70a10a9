package circuit

import "time"

type bucket struct {
	start     time.Time
	successes int
	failures  int
	rejects   int
	latency   time.Duration
}

// window is a ring of time buckets covering span. Buckets are recycled lazily:
// a bucket whose start falls outside the current slot is zeroed on first touch.
type window struct {
	buckets []bucket
	width   time.Duration
	span    time.Duration
}

func newWindow(span time.Duration, n int) *window {
	if n < 1 {
		n = 1
	}
	width := span / time.Duration(n)
	if width <= 0 {
		width = time.Millisecond
	}
	return &window{
		buckets: make([]bucket, n),
		width:   width,
		span:    width * time.Duration(n),
	}
}

func (w *window) current(now time.Time) *bucket {
	start := now.Truncate(w.width)
	idx := int((start.UnixNano() / int64(w.width)) % int64(len(w.buckets)))
	if idx < 0 {
		idx += len(w.buckets)
	}
	b := &w.buckets[idx]
	if !b.start.Equal(start) {
		*b = bucket{start: start}
	}
	return b
}

func (w *window) record(now time.Time, ok bool, latency time.Duration) {
	b := w.current(now)
	if ok {
		b.successes++
	} else {
		b.failures++
	}
	b.latency += latency
}

func (w *window) reject(now time.Time) {
	w.current(now).rejects++
}

func (w *window) reset() {
	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
}

// totals sums the buckets still inside the span ending at now.
func (w *window) totals(now time.Time) bucket {
	var t bucket
	cutoff := now.Truncate(w.width).Add(-w.span)
	for _, b := range w.buckets {
		if b.start.IsZero() || !b.start.After(cutoff) {
			continue
		}
		t.successes += b.successes
		t.failures += b.failures
		t.rejects += b.rejects
		t.latency += b.latency
	}
	return t
}
