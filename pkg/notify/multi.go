package notify

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/rebill/pkg/async"
	"github.com/platinummonkey/rebill/pkg/billing"
)

// Multi sends every notification to all of its notifiers concurrently
type Multi struct {
	notifiers []billing.Notifier
	timeout   time.Duration
}

// NewMulti creates a fan-out notifier. timeout bounds each delivery; zero means no limit.
func NewMulti(timeout time.Duration, notifiers ...billing.Notifier) *Multi {
	return &Multi{notifiers: notifiers, timeout: timeout}
}

// Notify delivers n everywhere and joins the failures
func (m *Multi) Notify(ctx context.Context, n billing.Notification) error {
	errs := async.Batch(ctx, m.notifiers, 0, m.timeout, func(ctx context.Context, notifier billing.Notifier) error {
		return notifier.Notify(ctx, n)
	})
	return errors.Join(errs...)
}
