package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/cycle"
	"github.com/platinummonkey/rebill/pkg/observability"
)

// schedule runs billing on the configured cron schedule until ctx is done.
// A run still in progress when the next tick fires makes that tick a no-op.
func (a *app) schedule(ctx context.Context, dryRun bool) error {
	c := cron.New(
		cron.WithLocation(a.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(a.logger))),
	)

	if _, err := c.AddFunc(a.cfg.Billing.Schedule, func() {
		a.scheduledRun(ctx, dryRun)
	}); err != nil {
		return fmt.Errorf("failed to schedule billing: %w", err)
	}

	c.Start()
	a.logger.WithField("schedule", a.cfg.Billing.Schedule).Info("Billing scheduler started")

	<-ctx.Done()
	a.logger.Info("Stopping billing scheduler")
	<-c.Stop().Done()
	return nil
}

func (a *app) scheduledRun(ctx context.Context, dryRun bool) {
	defer observability.RecoverPanic(a.logger, "scheduled billing run")

	day := a.today()
	log := a.logger.WithField("date", cycle.FormatDate(day))
	log.Info("Starting scheduled billing run")

	_, err := a.run(ctx, day, dryRun)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrRunInProgress):
		log.Info("Another instance is already billing this day")
	default:
		log.WithError(err).Error("Scheduled billing run failed")
	}
}
