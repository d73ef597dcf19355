package notify

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func finalNotice() billing.Notification {
	return billing.Notification{
		Kind:           billing.NotifyFinalNotice,
		SubscriptionID: 42,
		CustomerID:     7,
		Context: map[string]string{
			"product_name": "Pro Hosting",
			"amount":       "19.99",
		},
		CreatedAt: time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC),
	}
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []billing.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n billing.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func noSleep(context.Context, time.Duration) error { return nil }
