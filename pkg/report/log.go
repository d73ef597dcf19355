package report

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// LogSink logs run results
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs a summary of result
func (s *LogSink) Publish(_ context.Context, result *billing.RunResult) error {
	fields := logrus.Fields{
		"run_id":   result.RunID,
		"date":     result.Date,
		"dry_run":  result.DryRun,
		"due":      result.Due,
		"duration": result.FinishedAt.Sub(result.StartedAt).String(),
	}
	for kind, n := range result.Counts {
		fields[string(kind)] = n
	}
	for currency, amount := range result.Collected {
		fields["collected_"+currency] = amount.StringFixed(2)
	}

	for _, o := range result.Outcomes {
		if o.Kind != billing.OutcomeErrored {
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"run_id":          result.RunID,
			"subscription_id": o.SubscriptionID,
			"customer_id":     o.CustomerID,
		}).Warn("Occurrence errored: " + o.Message)
	}

	entry := s.logger.WithFields(fields)
	if result.Aborted != "" {
		entry.WithField("reason", result.Aborted).Error("Billing run aborted")
		return nil
	}
	entry.Info("Billing run finished")
	return nil
}
