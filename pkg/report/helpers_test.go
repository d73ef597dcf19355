package report

import (
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleResult() *billing.RunResult {
	started := time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC)
	rc := billing.RunContext{
		RunID:              "run-1",
		Today:              time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		MaxFailuresAllowed: 3,
	}

	result := billing.NewRunResult(rc, started)
	result.Due = 3
	result.Add(billing.Outcome{
		SubscriptionID: 1,
		Kind:           billing.OutcomeSuccess,
		Amount:         decimal.RequireFromString("19.99"),
		Currency:       "USD",
		TransactionID:  "txn_1",
	})
	result.Add(billing.Outcome{
		SubscriptionID: 2,
		Kind:           billing.OutcomeFailure,
		Amount:         decimal.RequireFromString("5.00"),
		Currency:       "USD",
		FailureStreak:  1,
	})
	result.Add(billing.Outcome{
		SubscriptionID: 3,
		CustomerID:     9,
		Kind:           billing.OutcomeErrored,
		Message:        "invalid billing period",
	})
	result.FinishedAt = started.Add(6 * time.Second)
	return result
}
