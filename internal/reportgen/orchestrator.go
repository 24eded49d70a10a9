package reportgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medgate/internal/reportgen/providers"
	audit "medgate/pkg/platform/audit"
	"medgate/pkg/requestcontext"
)

// Orchestrator tries providers one after another.
type Orchestrator struct {
	recorder audit.Recorder
	logger   *slog.Logger
	metrics  *Metrics
	clock    func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewOrchestrator creates an orchestrator recording to recorder.
func NewOrchestrator(recorder audit.Recorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		recorder: recorder,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var errNoProviders = errors.New("no report providers available")

// Generate tries plan in order and returns the first successful report. It
// never fails: when every attempt fails, or ctx ends, it returns the
// transcription as a manual-review report. Exactly one audit entry is
// recorded per call.
func (o *Orchestrator) Generate(ctx context.Context, in Input, plan []providers.Provider) Result {
	start := o.clock()
	prompt := buildPrompt(in)

	var (
		failures []AttemptFailure
		lastErr  error = errNoProviders
	)
	for _, p := range plan {
		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("request cancelled: %w", err)
			break
		}

		attemptStart := o.clock()
		res, err := o.attempt(ctx, p, prompt)
		elapsed := o.clock().Sub(attemptStart)
		if err == nil {
			o.metrics.IncAttempt(p.Name, "success")
			res.GeneratedAt = o.clock().UTC()
			res.Metadata = Metadata{
				ProcessingMode: modeOf(p),
				AIGenerated:    true,
				Attempts:       len(failures) + 1,
				DurationMS:     o.clock().Sub(start).Milliseconds(),
				ReportType:     in.ReportType,
				FallbackLog:    failures,
			}
			o.record(ctx, in, res)
			return res
		}

		category := providers.GetCategory(err)
		o.metrics.IncAttempt(p.Name, string(category))
		o.logger.WarnContext(ctx, "report provider attempt failed",
			"provider", p.Name,
			"reason", category,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		failures = append(failures, AttemptFailure{
			Provider:   p.Name,
			Reason:     string(category),
			Error:      err.Error(),
			DurationMS: elapsed.Milliseconds(),
		})
		lastErr = err
	}

	res := Result{
		Findings:        in.TranscriptionText,
		Impression:      FallbackImpression,
		Recommendations: FallbackRecommendations,
		Provider:        FallbackProvider,
		Model:           FallbackModel,
		GeneratedAt:     o.clock().UTC(),
		Metadata: Metadata{
			ProcessingMode: ModeFallback,
			AIGenerated:    false,
			Attempts:       len(failures),
			DurationMS:     o.clock().Sub(start).Milliseconds(),
			ReportType:     in.ReportType,
			FallbackLog:    failures,
			FallbackReason: lastErr.Error(),
		},
	}
	o.metrics.IncFallback()
	o.logger.ErrorContext(ctx, "all report providers failed, returning manual-review report",
		"attempts", len(failures),
		"error", lastErr,
		"request_id", requestcontext.RequestID(ctx),
	)
	o.record(ctx, in, res)
	return res
}

// attempt runs one provider under its own timeout and breaker.
func (o *Orchestrator) attempt(ctx context.Context, p providers.Provider, prompt providers.Prompt) (Result, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var completion providers.Completion
	call := func(ctx context.Context) error {
		c, err := p.Client.Complete(ctx, prompt)
		if err != nil {
			return err
		}
		completion = c
		return nil
	}

	var err error
	if p.Breaker != nil {
		err = p.Breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return Result{}, providers.Classify(p.Name, err)
	}

	sections, err := ParseReport(completion.Text)
	if err != nil {
		return Result{}, providers.NewProviderError(providers.ErrorBadData, p.Name, "unusable report", err)
	}
	model := completion.Model
	if model == "" {
		model = p.Model
	}
	return Result{
		Findings:        sections.Findings,
		Impression:      sections.Impression,
		Recommendations: sections.Recommendations,
		Provider:        p.Name,
		Model:           model,
	}, nil
}

func (o *Orchestrator) record(ctx context.Context, in Input, res Result) {
	if o.recorder == nil {
		return
	}
	entry := audit.Entry{
		Action:     audit.ActionReportGenerated,
		Resource:   "ai_report",
		ResourceID: in.ReportType,
		DurationMS: res.Metadata.DurationMS,
		RiskLevel:  audit.RiskLow,
		Description: fmt.Sprintf("Report generated by %s (%s) after %d attempt(s)",
			res.Provider, res.Model, res.Metadata.Attempts),
	}
	if !res.Metadata.AIGenerated {
		entry.RiskLevel = audit.RiskMedium
		entry.Description = fmt.Sprintf("All %d report provider attempt(s) failed; manual-review fallback returned: %s",
			res.Metadata.Attempts, res.Metadata.FallbackReason)
	}
	o.recorder.Record(context.WithoutCancel(ctx), entry)
}

func modeOf(p providers.Provider) string {
	if p.Kind.IsCloud() {
		return ModeCloud
	}
	return ModeLocal
}
