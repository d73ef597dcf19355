package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/cycle"
)

// DefaultChargeDelay is the pause between consecutive subscriptions in a run
const DefaultChargeDelay = 2 * time.Second

// DefaultLockTTL bounds how long a crashed run can hold the run lock
const DefaultLockTTL = 2 * time.Hour

// Processor decides the outcome of one due occurrence
type Processor interface {
	Process(ctx context.Context, rc RunContext, id int64) (Outcome, error)
	Preview(ctx context.Context, rc RunContext, id int64) (Outcome, error)
}

// FixedDelay is a Pacer that sleeps for a fixed duration
type FixedDelay time.Duration

// Wait blocks for the delay or until ctx is done
func (d FixedDelay) Wait(ctx context.Context) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(d))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunnerOption configures optional Runner collaborators
type RunnerOption func(*Runner)

// WithLocker guards each run with a distributed lock
func WithLocker(l Locker, ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		r.locker = l
		r.lockTTL = ttl
	}
}

// WithObserver reports outcomes and runs to o. It may be given more than once.
func WithObserver(o RunObserver) RunnerOption {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// WithClock overrides the clock used for run timestamps
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// Runner processes every subscription due on a day, one at a time
type Runner struct {
	store     Store
	processor Processor
	pacer     Pacer
	sink      ReportSink
	locker    Locker
	lockTTL   time.Duration
	observers []RunObserver
	logger    *logrus.Logger
	now       func() time.Time
}

// NewRunner creates a new batch runner
func NewRunner(store Store, processor Processor, pacer Pacer, sink ReportSink, logger *logrus.Logger, opts ...RunnerOption) *Runner {
	if pacer == nil {
		pacer = FixedDelay(DefaultChargeDelay)
	}
	if logger == nil {
		logger = logrus.New()
	}
	r := &Runner{
		store:     store,
		processor: processor,
		pacer:     pacer,
		sink:      sink,
		lockTTL:   DefaultLockTTL,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LockKey is the run lock key for a billing day
func LockKey(today time.Time) string {
	return "rebill:run:" + cycle.FormatDate(today)
}

// Run processes every occurrence due on rc.Today. On a store failure or
// cancellation the partial result is returned together with the error.
func (r *Runner) Run(ctx context.Context, rc RunContext) (*RunResult, error) {
	rc.Today = cycle.Date(rc.Today)
	log := r.logger.WithFields(logrus.Fields{
		"run_id":  rc.RunID,
		"date":    cycle.FormatDate(rc.Today),
		"dry_run": rc.DryRun,
	})

	if r.locker != nil && !rc.DryRun {
		release, err := r.locker.Acquire(ctx, LockKey(rc.Today), r.lockTTL)
		if errors.Is(err, ErrLockHeld) {
			return nil, ErrRunInProgress
		}
		if err != nil {
			return nil, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warnf("Failed to release run lock: %v", err)
			}
		}()
	}

	result := NewRunResult(rc, r.now())
	ids, err := r.store.DueSubscriptionIDs(ctx, rc.Today)
	if err != nil {
		return r.finish(ctx, log, result, fmt.Errorf("failed to select due subscriptions: %w", err))
	}
	result.Due = len(ids)
	log.Infof("Found %d due subscriptions", len(ids))

	for i, id := range ids {
		if i > 0 && !rc.DryRun {
			if err := r.pacer.Wait(ctx); err != nil {
				return r.finish(ctx, log, result, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, log, result, err)
		}

		var outcome Outcome
		if rc.DryRun {
			outcome, err = r.processor.Preview(ctx, rc, id)
		} else {
			outcome, err = r.processor.Process(ctx, rc, id)
		}
		if err != nil {
			return r.finish(ctx, log, result, err)
		}

		result.Add(outcome)
		for _, o := range r.observers {
			o.ObserveOutcome(outcome)
		}
	}

	return r.finish(ctx, log, result, nil)
}

func (r *Runner) finish(ctx context.Context, log *logrus.Entry, result *RunResult, runErr error) (*RunResult, error) {
	result.FinishedAt = r.now()
	if runErr != nil {
		result.Aborted = runErr.Error()
	}

	log.WithFields(logrus.Fields{
		"success":         result.Count(OutcomeSuccess),
		"failure":         result.Count(OutcomeFailure),
		"skipped_by_flag": result.Count(OutcomeSkippedByFlag),
		"skipped_no_card": result.Count(OutcomeSkippedNoCard),
		"errored":         result.Count(OutcomeErrored),
		"duration":        result.FinishedAt.Sub(result.StartedAt).String(),
	}).Info("Billing run finished")

	for _, o := range r.observers {
		o.ObserveRun(result)
	}
	if r.sink != nil {
		if err := r.sink.Publish(context.WithoutCancel(ctx), result); err != nil {
			log.Errorf("Failed to publish run report: %v", err)
		}
	}
	return result, runErr
}
