package gateway

import (
	"context"
	"io"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func chargeRequest() billing.ChargeRequest {
	return billing.ChargeRequest{
		SubscriptionID: 10,
		CustomerID:     7,
		Amount:         decimal.RequireFromString("19.99"),
		Currency:       "USD",
		Card: &billing.Card{
			ID:                1,
			CustomerID:        7,
			Expiry:            "1230",
			VaultToken:        "pm_1",
			GatewayCustomerID: "cus_1",
		},
		Description:    "Pro Hosting renewal",
		IdempotencyKey: "rebill-10-20250315",
	}
}

type stubGateway struct {
	mu     sync.Mutex
	calls  int
	result billing.ChargeResult
	err    error
}

func (g *stubGateway) Charge(context.Context, billing.ChargeRequest) (billing.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.result, g.err
}
