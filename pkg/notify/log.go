package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// LogNotifier writes notifications to the log. Useful for dry runs and as a
// record next to real delivery channels.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n at info level
func (l *LogNotifier) Notify(_ context.Context, n billing.Notification) error {
	fields := logrus.Fields{
		"kind":            n.Kind,
		"subscription_id": n.SubscriptionID,
		"customer_id":     n.CustomerID,
	}
	for k, v := range n.Context {
		fields["ctx_"+k] = v
	}
	l.logger.WithFields(fields).Info("Customer notification")
	return nil
}
