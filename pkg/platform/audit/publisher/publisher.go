// Package publisher records audit entries without putting persistence on the
// caller's path.
//
// In async mode (WithAsyncBuffer) entries go through a bounded queue drained by
// a single worker. The worker assigns IDs and strictly increasing createdAt
// values, applies the risk policy, links the entry into the hash chain and
// writes it to the store. The chain head only moves once the store accepted
// the entry; sinks see stored entries only. Close drains the queue.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "medgate/pkg/platform/audit"
	auditmetrics "medgate/pkg/platform/audit/metrics"
	"medgate/pkg/requestcontext"
)

const (
	defaultEnqueueTimeout = 50 * time.Millisecond
	defaultWriteTimeout   = 5 * time.Second
)

// Publisher implements audit.Recorder.
type Publisher struct {
	store          audit.Store
	sinks          []audit.Sink
	sealer         *audit.Sealer
	logger         *slog.Logger
	metrics        *auditmetrics.Metrics
	clock          func() time.Time
	enqueueTimeout time.Duration
	writeTimeout   time.Duration

	// mu orders stamping, linking and appending.
	mu   sync.Mutex
	last time.Time

	closeMu sync.RWMutex
	closed  bool
	buffer  chan audit.Entry
	wg      sync.WaitGroup
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables async recording with a queue of size n.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = make(chan audit.Entry, n)
		}
	}
}

// WithLogger sets a logger for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *auditmetrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSink adds a sink that receives every stored entry.
func WithSink(sink audit.Sink) Option {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

// WithSealer replaces the default unkeyed sealer.
func WithSealer(s *audit.Sealer) Option {
	return func(p *Publisher) {
		if s != nil {
			p.sealer = s
		}
	}
}

// WithClock overrides the time source used for createdAt.
func WithClock(clock func() time.Time) Option {
	return func(p *Publisher) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithEnqueueTimeout bounds how long Record waits on a full queue before
// dropping the entry.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.enqueueTimeout = d
		}
	}
}

// WithWriteTimeout bounds each store and sink write.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// NewPublisher creates a publisher writing to store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:          store,
		sealer:         audit.NewSealer(nil),
		logger:         slog.Default(),
		clock:          time.Now,
		enqueueTimeout: defaultEnqueueTimeout,
		writeTimeout:   defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Record enriches entry from the request context and hands it to the worker.
// It never returns an error: persistence failures are logged and counted.
func (p *Publisher) Record(ctx context.Context, entry audit.Entry) {
	entry = enrich(ctx, entry)

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.buffer == nil || p.closed {
		p.write(entry)
		return
	}

	select {
	case p.buffer <- entry:
		p.metrics.SetQueueDepth(len(p.buffer))
		return
	default:
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.buffer <- entry:
		p.metrics.SetQueueDepth(len(p.buffer))
	case <-timer.C:
		p.metrics.IncDropped()
		p.logger.Error("audit queue full, entry dropped",
			"action", entry.Action,
			"resource", entry.Resource,
			"request_id", entry.RequestID,
		)
	}
}

// Close stops accepting queued entries and waits for the queue to drain.
// Entries recorded after Close are written synchronously.
func (p *Publisher) Close() error {
	p.closeMu.Lock()
	if p.closed || p.buffer == nil {
		p.closed = true
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.buffer)
	p.closeMu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for entry := range p.buffer {
		p.metrics.SetQueueDepth(len(p.buffer))
		p.write(entry)
	}
}

func (p *Publisher) write(entry audit.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()

	if !p.persist(ctx, &entry) {
		return
	}

	for _, sink := range p.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			p.metrics.IncSinkFailures(sink.Name())
			p.logger.Warn("audit sink write failed",
				"sink", sink.Name(),
				"id", entry.ID,
				"error", err,
			)
		}
	}
}

// persist stamps identity and time, links the entry into the chain and appends
// it. A failed append leaves the chain head where it was.
func (p *Publisher) persist(ctx context.Context, e *audit.Entry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := p.clock().UTC().Truncate(time.Microsecond)
	if !now.After(p.last) {
		now = p.last.Add(time.Microsecond)
	}
	p.last = now
	e.CreatedAt = now

	audit.ApplyRiskPolicy(e)
	p.sealer.Link(e)

	if err := p.store.Append(ctx, *e); err != nil {
		p.metrics.IncPersistFailures()
		p.logger.Error("failed to persist audit entry",
			"id", e.ID,
			"action", e.Action,
			"risk_level", e.RiskLevel,
			"request_id", e.RequestID,
			"error", err,
		)
		return false
	}
	p.sealer.Commit(*e)
	p.metrics.IncRecorded(string(e.RiskLevel))
	return true
}

func enrich(ctx context.Context, e audit.Entry) audit.Entry {
	if e.UserID == "" {
		e.UserID = requestcontext.UserID(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.IPAddress == "" {
		e.IPAddress = requestcontext.ClientIP(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = requestcontext.UserAgent(ctx)
	}
	if e.Client == "" {
		e.Client = audit.DescribeClient(e.UserAgent)
	}
	return e
}
