// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// Billing runs are sequential; the only concurrency in the process is background
// housekeeping (replica health checks, webhook delivery) and notification fan-out.
// This package wraps both with panic recovery, timeouts and logrus logging.
//
// # Key Functions
//
// SafeGo: fire-and-forget task with recovery and timeout
//
//	async.SafeGo(ctx, 30*time.Second, logger, "replica check", func(ctx context.Context) error {
//		return check(ctx)
//	})
//
// Batch: bounded concurrent fan-out collecting every error
//
//	errs := async.Batch(ctx, notifiers, 4, 10*time.Second, func(ctx context.Context, n Notifier) error {
//		return n.Notify(ctx, note)
//	})
package async
