package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// StripeConfig configures the Stripe gateway
type StripeConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint, mostly for tests
	BaseURL           string
	HTTPClient        *http.Client
	MaxNetworkRetries int64
}

// StripeGateway charges a saved payment method with an off-session PaymentIntent
type StripeGateway struct {
	intents paymentintent.Client
	logger  *logrus.Logger
}

// NewStripeGateway creates a Stripe gateway. The API key is kept on the client,
// not in the package-level stripe.Key.
func NewStripeGateway(config StripeConfig, logger *logrus.Logger) *StripeGateway {
	backendConfig := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(config.MaxNetworkRetries),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if config.BaseURL != "" {
		backendConfig.URL = stripe.String(config.BaseURL)
	}
	if config.HTTPClient != nil {
		backendConfig.HTTPClient = config.HTTPClient
	}

	return &StripeGateway{
		intents: paymentintent.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
			Key: config.APIKey,
		},
		logger: logger,
	}
}

// Charge creates and confirms a PaymentIntent for the card's customer and payment method
func (g *StripeGateway) Charge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	if req.Card == nil {
		return billing.ChargeResult{}, errors.New("charge request has no card")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(MinorUnits(req.Amount, req.Currency)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.Card.GatewayCustomerID),
		PaymentMethod: stripe.String(req.Card.VaultToken),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.AddMetadata("subscription_id", fmt.Sprintf("%d", req.SubscriptionID))
	params.AddMetadata("customer_id", fmt.Sprintf("%d", req.CustomerID))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return declined(stripeErr), nil
		}
		return billing.ChargeResult{}, fmt.Errorf("failed to create payment intent for subscription %d: %w", req.SubscriptionID, err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		g.logger.WithFields(logrus.Fields{
			"subscription_id":   req.SubscriptionID,
			"payment_intent_id": pi.ID,
			"status":            pi.Status,
		}).Info("Payment intent did not succeed")
		return billing.ChargeResult{
			TransactionID: pi.ID,
			ErrorMessage:  fmt.Sprintf("payment intent %s", pi.Status),
		}, nil
	}
	return billing.ChargeResult{Success: true, TransactionID: pi.ID}, nil
}

func declined(err *stripe.Error) billing.ChargeResult {
	res := billing.ChargeResult{ErrorMessage: err.Msg}
	if err.DeclineCode != "" {
		res.ErrorMessage = fmt.Sprintf("%s (%s)", err.Msg, err.DeclineCode)
	}
	if err.PaymentIntent != nil {
		res.TransactionID = err.PaymentIntent.ID
	}
	return res
}
