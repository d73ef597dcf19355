package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SafeGo runs fn in a goroutine with panic recovery and an optional timeout.
// Errors and panics are logged, never propagated. The returned channel is
// closed once fn has returned.
//
// Example:
//
//	async.SafeGo(ctx, 10*time.Second, logger, "webhook delivery", func(ctx context.Context) error {
//	    return deliver(ctx, payload)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, logger logrus.FieldLogger, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx, cancel := taskContext(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithField("task", taskName).Errorf("Panic in background task: %v\n%s", r, debug.Stack())
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).Warnf("Background task failed: %v", err)
		}
	}()
	return done
}

// SafeGoNoError is like SafeGo but for functions that don't return errors
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, logger logrus.FieldLogger, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, timeout, logger, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Batch runs fn for every item with at most workers running at once and returns
// every error encountered. A panicking task is reported as an error. A task never
// cancels its siblings.
//
// Example:
//
//	errs := async.Batch(ctx, sinks, 4, 10*time.Second, func(ctx context.Context, s Sink) error {
//	    return s.Send(ctx, msg)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, item := range items {
		g.Go(func() (err error) {
			taskCtx, cancel := taskContext(ctx, timeout)
			defer cancel()

			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
			return fn(taskCtx, item)
		})
	}

	_ = g.Wait()
	return errs
}

func taskContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}
