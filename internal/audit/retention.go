package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const purgeTimeout = 5 * time.Minute

// Purger deletes entries older than a retention age.
type Purger interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Retention runs the purge on a cron schedule.
type Retention struct {
	cron   *cron.Cron
	purger Purger
	age    time.Duration
	logger *slog.Logger
}

// NewRetention schedules purger to drop entries older than age. schedule uses
// standard cron syntax or descriptors such as @daily.
func NewRetention(purger Purger, schedule string, age time.Duration, logger *slog.Logger) (*Retention, error) {
	r := &Retention{
		purger: purger,
		age:    age,
		logger: logger,
	}
	r.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	if _, err := r.cron.AddFunc(schedule, r.Run); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background.
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running purge.
func (r *Retention) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Run purges once.
func (r *Retention) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	n, err := r.purger.PurgeOlderThan(ctx, r.age)
	if err != nil {
		r.logger.Error("audit retention purge failed", "error", err)
		return
	}
	r.logger.Info("audit retention purge complete", "purged", n, "retention", r.age.String())
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
