package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rebill/pkg/billing"
)

const tracerName = "github.com/platinummonkey/rebill/pkg/gateway"

// Charge results reported to a ChargeObserver
const (
	ResultApproved    = "approved"
	ResultDeclined    = "declined"
	ResultError       = "error"
	ResultUnavailable = "unavailable"
)

// ChargeObserver records the latency and result of gateway calls
type ChargeObserver interface {
	ObserveCharge(provider, result string, elapsed time.Duration)
}

// Instrumented traces and measures every charge sent to the wrapped gateway
type Instrumented struct {
	next     billing.PaymentGateway
	provider string
	observer ChargeObserver
	tracer   trace.Tracer
	logger   *logrus.Logger
}

// NewInstrumented wraps next. observer may be nil.
func NewInstrumented(next billing.PaymentGateway, provider string, observer ChargeObserver, logger *logrus.Logger) *Instrumented {
	return &Instrumented{
		next:     next,
		provider: provider,
		observer: observer,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// Charge forwards the charge inside a span
func (g *Instrumented) Charge(ctx context.Context, req billing.ChargeRequest) (billing.ChargeResult, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Charge", trace.WithAttributes(
		attribute.String("gateway.provider", g.provider),
		attribute.Int64("subscription.id", req.SubscriptionID),
		attribute.String("charge.amount", req.Amount.String()),
		attribute.String("charge.currency", req.Currency),
	))
	defer span.End()

	start := time.Now()
	res, err := g.next.Charge(ctx, req)
	elapsed := time.Since(start)

	result := ResultApproved
	switch {
	case errors.Is(err, billing.ErrGatewayUnavailable):
		result = ResultUnavailable
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case err != nil:
		result = ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !res.Success:
		result = ResultDeclined
		span.SetAttributes(attribute.String("charge.decline", res.ErrorMessage))
	default:
		span.SetAttributes(attribute.String("charge.transaction_id", res.TransactionID))
	}
	span.SetAttributes(attribute.String("charge.result", result))

	if g.observer != nil {
		g.observer.ObserveCharge(g.provider, result, elapsed)
	}
	g.logger.WithFields(logrus.Fields{
		"provider":        g.provider,
		"subscription_id": req.SubscriptionID,
		"result":          result,
		"elapsed":         elapsed,
	}).Debug("Gateway charge finished")

	return res, err
}
