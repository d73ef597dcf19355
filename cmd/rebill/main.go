package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/config"
	"github.com/platinummonkey/rebill/pkg/cycle"
	"github.com/platinummonkey/rebill/pkg/observability"
)

var (
	configFile = flag.String("config", "", "YAML configuration file (defaults to REBILL_CONFIG_FILE)")
	runOnce    = flag.Bool("run-once", false, "Run billing once and exit instead of following the schedule")
	runDate    = flag.String("date", "", "Billing date (YYYY-MM-DD) for --run-once. If empty, today in the billing timezone")
	dryRun     = flag.Bool("dry-run", false, "Evaluate due subscriptions without charging or recording anything")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		logrus.Fatalf("rebill: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	sm := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)

	a, err := newApp(ctx, cfg, logger, sm)
	if err != nil {
		if shutdownErr := sm.Shutdown(ctx); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("Cleanup after failed startup was incomplete")
		}
		return err
	}

	if *runOnce {
		return a.runOnce(ctx, sm, *runDate, *dryRun)
	}

	server.Handler = a.handler()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Health server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.schedule(gctx, *dryRun)
	})
	g.Go(func() error {
		<-gctx.Done()
		return sm.Shutdown(gctx)
	})
	return g.Wait()
}

// runOnce processes a single billing day and releases every resource
func (a *app) runOnce(ctx context.Context, sm *observability.ShutdownManager, date string, dryRun bool) error {
	day, err := parseRunDate(date, a.today())
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"date":    cycle.FormatDate(day),
		"dry_run": dryRun,
	}).Info("Running billing once")

	_, runErr := a.run(ctx, day, dryRun)
	if err := sm.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("Shutdown was incomplete")
	}
	if errors.Is(runErr, billing.ErrRunInProgress) {
		a.logger.Info("Another instance is already billing this day")
		return nil
	}
	return runErr
}

// parseRunDate parses a --date value, defaulting to today
func parseRunDate(value string, today time.Time) (time.Time, error) {
	if value == "" {
		return today, nil
	}
	day, err := cycle.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date: %w", err)
	}
	return day, nil
}
