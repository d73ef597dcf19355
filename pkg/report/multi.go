package report

import (
	"context"
	"errors"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// Multi publishes to every sink in order, even when an earlier one fails
type Multi []billing.ReportSink

// Publish hands result to all sinks and joins the failures
func (m Multi) Publish(ctx context.Context, result *billing.RunResult) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
