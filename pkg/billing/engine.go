package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rebill/pkg/cycle"
)

const tracerName = "github.com/platinummonkey/rebill/pkg/billing"

// Dependencies are the collaborators used by the Engine
type Dependencies struct {
	Store    Store
	Gateway  PaymentGateway
	Orders   OrderService
	Pricing  PricingService
	Cards    CardDirectory
	Groups   GroupPricingManager
	Notifier Notifier
	Logger   *logrus.Logger
	Tracer   trace.Tracer
	// Now stamps processed_at; the billing date always comes from RunContext
	Now func() time.Time
}

// Engine processes a single due occurrence
type Engine struct {
	store    Store
	gateway  PaymentGateway
	orders   OrderService
	pricing  PricingService
	groups   GroupPricingManager
	notifier Notifier
	guard    *CardGuard
	logger   *logrus.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewEngine creates a new billing engine
func NewEngine(deps Dependencies) *Engine {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		store:    deps.Store,
		gateway:  deps.Gateway,
		orders:   deps.Orders,
		pricing:  deps.Pricing,
		groups:   deps.Groups,
		notifier: deps.Notifier,
		guard:    NewCardGuard(deps.Cards, deps.Store, deps.Logger),
		logger:   deps.Logger,
		tracer:   deps.Tracer,
		now:      deps.Now,
	}
}

// schedule is a validated billing period and frequency
type schedule struct {
	period    string
	frequency int
}

func (s schedule) advance(base time.Time) (time.Time, error) {
	return cycle.AdvanceRaw(base, s.period, s.frequency)
}

// nextPlan is the successor computed for a successful charge
type nextPlan struct {
	intended  time.Time
	processOn time.Time
	finished  bool
}

// Process charges one due occurrence and records the result.
// The returned error is non-nil only for store failures, which must abort the run.
func (e *Engine) Process(ctx context.Context, rc RunContext, id int64) (Outcome, error) {
	ctx, span := e.tracer.Start(ctx, "billing.Process", trace.WithAttributes(
		attribute.Int64("subscription.id", id),
		attribute.String("run.id", rc.RunID),
	))
	defer span.End()

	out, err := e.process(ctx, rc, id)
	span.SetAttributes(attribute.String("billing.outcome", string(out.Kind)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	fields := logrus.Fields{
		"run_id":          rc.RunID,
		"subscription_id": id,
		"outcome":         out.Kind,
	}
	switch {
	case err != nil:
		e.logger.WithFields(fields).Errorf("Aborting on store failure: %v", err)
	case out.Kind == OutcomeErrored:
		e.logger.WithFields(fields).Warnf("Subscription not processed: %s", out.Message)
	default:
		e.logger.WithFields(fields).Infof("Processed subscription (amount %s %s)", out.Amount.StringFixed(2), out.Currency)
	}
	return out, err
}

func (e *Engine) process(ctx context.Context, rc RunContext, id int64) (Outcome, error) {
	sub, out, err := e.load(ctx, id)
	if sub == nil {
		return out, err
	}

	sched, hasSchedule, err := validateSchedule(rc, sub)
	if err != nil {
		return out.errored(err), nil
	}

	if sub.SkipNextPayment {
		return e.skip(ctx, rc, sub, sched, hasSchedule, out)
	}

	sub, card, err := e.guard.Ensure(ctx, rc, sub)
	switch {
	case errors.Is(err, ErrNoValidCard):
		return e.noCard(ctx, sub, out), nil
	case err != nil:
		return contain(out, err)
	}

	totals, err := e.pricing.RecomputeTotals(ctx, sub)
	if err != nil {
		return contain(out, fmt.Errorf("failed to recompute totals: %w", err))
	}
	if !totals.Subtotal.Equal(sub.Amount) {
		if err := e.store.UpdateAmount(ctx, sub.ID, totals.Subtotal); err != nil {
			return contain(out, err)
		}
		e.logger.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"old_amount":      sub.Amount.String(),
			"new_amount":      totals.Subtotal.String(),
		}).Info("Corrected subscription amount to current price")
		sub.Amount = totals.Subtotal
	}

	// everything needed to record the result is loaded before money moves
	history, err := e.store.History(ctx, sub.OriginalOrderLineID, sub.ID)
	if err != nil {
		return contain(out, err)
	}
	var plan nextPlan
	if hasSchedule {
		if plan, err = e.planNext(rc, sub, sched, history); err != nil {
			return out.errored(err), nil
		}
	}

	charge := totals.Total
	result := ChargeResult{Success: true}
	if charge.IsPositive() {
		if result, err = e.charge(ctx, rc, sub, card, charge); err != nil {
			// nothing reached the provider, the next run retries the occurrence
			return out.errored(fmt.Errorf("charge not attempted: %w", err)), nil
		}
	} else {
		charge = decimal.Zero
		out.AutoSettled = true
	}
	out.Amount = charge

	if !result.Success {
		return e.failed(ctx, rc, sub, history, result, out)
	}
	return e.succeeded(ctx, rc, sub, card, hasSchedule, plan, result, out)
}

// Preview reports what Process would do for id without charging or writing anything
func (e *Engine) Preview(ctx context.Context, rc RunContext, id int64) (Outcome, error) {
	sub, out, err := e.load(ctx, id)
	if sub == nil {
		return out, err
	}
	if _, _, err := validateSchedule(rc, sub); err != nil {
		return out.errored(err), nil
	}
	if sub.SkipNextPayment {
		out.Kind = OutcomeSkippedByFlag
		out.Amount = decimal.Zero
		return out, nil
	}

	_, replaced, err := e.guard.Check(ctx, rc, sub)
	switch {
	case errors.Is(err, ErrNoValidCard):
		out.Kind = OutcomeSkippedNoCard
		out.Message = err.Error()
		return out, nil
	case err != nil:
		return contain(out, err)
	}
	if replaced {
		out.Warnings = append(out.Warnings, "card would be replaced")
	}
	out.Kind = OutcomePending
	return out, nil
}

// load reads a due occurrence. A nil subscription means out is final.
func (e *Engine) load(ctx context.Context, id int64) (*Subscription, Outcome, error) {
	sub, err := e.store.GetSubscription(ctx, id)
	if err != nil {
		out, err := contain(Outcome{SubscriptionID: id}, err)
		return nil, out, err
	}

	out := Outcome{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		ProductName:    sub.ProductName,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
	}
	if sub.Status != StatusScheduled {
		return nil, out.errored(fmt.Errorf("%w: status %s", ErrAlreadyProcessed, sub.Status)), nil
	}
	return sub, out, nil
}

// validateSchedule checks the schedule can produce a next date before anything is charged
func validateSchedule(rc RunContext, sub *Subscription) (schedule, bool, error) {
	period, frequency, ok := sub.Schedule()
	if !ok {
		return schedule{}, false, nil
	}
	s := schedule{period: period, frequency: frequency}
	if _, err := s.advance(rc.Today); err != nil {
		return s, true, fmt.Errorf("invalid schedule: %w", err)
	}
	return s, true, nil
}

// planNext works out the successor of a successful charge
func (e *Engine) planNext(rc RunContext, sub *Subscription, sched schedule, history []Attempt) (nextPlan, error) {
	intended := e.intendedDate(rc, sub, CountConsecutiveFailures(history))
	nextDue, err := sched.advance(intended)
	if err != nil {
		return nextPlan{}, fmt.Errorf("failed to compute next billing date: %w", err)
	}

	plan := nextPlan{intended: nextDue, processOn: nextDue}
	if !nextDue.After(rc.Today) {
		plan.processOn = cycle.AddDays(rc.Today, 1)
	}
	if maxCycles, ok := sub.MaxCycles(); ok && countCompletedCycles(history)+1 >= maxCycles {
		plan.finished = true
	}
	return plan, nil
}

// intendedDate is the date the current charge covers. Without a stored value it is
// approximated as the scheduled date minus one day per prior failure.
func (e *Engine) intendedDate(rc RunContext, sub *Subscription, priorFailures int) time.Time {
	if raw := sub.Attributes.IntendedBillingDate; raw != "" {
		d, err := cycle.ParseDate(raw)
		if err != nil {
			e.logger.WithField("subscription_id", sub.ID).Warnf("Using today as intended billing date: %v", err)
			return rc.Today
		}
		return d
	}
	if sub.NextPaymentDate.IsZero() {
		return rc.Today
	}
	return cycle.AddDays(sub.NextPaymentDate, -priorFailures)
}

// charge turns gateway errors into declines, except ErrGatewayUnavailable and
// cancellation before the request, which are returned as is
func (e *Engine) charge(ctx context.Context, rc RunContext, sub *Subscription, card *Card, amount decimal.Decimal) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	req := ChargeRequest{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Amount:         amount,
		Currency:       sub.Currency,
		Card:           card,
		Description:    sub.ProductName,
		IdempotencyKey: IdempotencyKey(sub.ID, rc.Today),
	}
	result, err := e.gateway.Charge(ctx, req)
	if errors.Is(err, ErrGatewayUnavailable) {
		return ChargeResult{}, err
	}
	if err != nil {
		return ChargeResult{ErrorMessage: err.Error()}, nil
	}
	if !result.Success && result.ErrorMessage == "" {
		result.ErrorMessage = "payment declined"
	}
	return result, nil
}

// IdempotencyKey identifies a charge of one occurrence on one day
func IdempotencyKey(subscriptionID int64, day time.Time) string {
	return fmt.Sprintf("rebill-%d-%s", subscriptionID, day.Format("20060102"))
}

func (e *Engine) skip(ctx context.Context, rc RunContext, sub *Subscription, sched schedule, hasSchedule bool, out Outcome) (Outcome, error) {
	out.Kind = OutcomeSkippedByFlag
	out.Amount = decimal.Zero

	rec := OutcomeRecord{
		SubscriptionID: sub.ID,
		Status:         StatusComplete,
		Skipped:        true,
		ChargedAmount:  decimal.Zero,
		ProcessedAt:    e.now(),
	}
	var nextDate time.Time
	if hasSchedule {
		nextDue, err := sched.advance(rc.Today)
		if err != nil {
			return out.errored(err), nil
		}
		nextDate = nextDue
		if !nextDue.After(rc.Today) {
			nextDate = cycle.AddDays(rc.Today, 1)
		}
		rec.Next = sub.NextOccurrence(nextDate, successorAttributes(sub, sched, nextDue))
		out.IntendedBillingDate = &nextDue
	}

	nextID, err := e.store.RecordOutcome(ctx, rec)
	if err != nil {
		return contain(out, err)
	}
	if rec.Next != nil {
		out.NextSubscriptionID = nextID
		out.NextPaymentDate = &nextDate
	}

	orderID, err := e.orders.CreateOrder(ctx, orderRequest(sub, decimal.Zero, "", true), sub.CardID)
	if err != nil {
		out.warn("failed to create placeholder order", err)
	} else {
		out.OrderID = orderID
		if hasSchedule {
			if err := e.orders.AddLicense(ctx, license(sub, orderID, nextDate)); err != nil {
				out.warn("failed to add license", err)
			}
		}
	}
	return out, nil
}

func (e *Engine) noCard(ctx context.Context, sub *Subscription, out Outcome) Outcome {
	out.Kind = OutcomeSkippedNoCard
	out.Message = ErrNoValidCard.Error()
	e.notify(ctx, &out, Notification{
		Kind:           NotifyCardUpdateRequired,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Context: map[string]string{
			"product_name":      sub.ProductName,
			"next_payment_date": cycle.FormatDate(sub.NextPaymentDate),
		},
	})
	return out
}

func (e *Engine) failed(ctx context.Context, rc RunContext, sub *Subscription, history []Attempt, result ChargeResult, out Outcome) (Outcome, error) {
	out.Kind = OutcomeFailure
	out.Message = result.ErrorMessage
	out.TransactionID = result.TransactionID
	out.FailureStreak = CountConsecutiveFailures(history) + 1
	out.Escalated = HasReachedMaxAttempts(out.FailureStreak, rc.MaxFailuresAllowed)

	rec := OutcomeRecord{
		SubscriptionID: sub.ID,
		Status:         StatusFailed,
		TransactionID:  result.TransactionID,
		ErrorMessage:   result.ErrorMessage,
		ChargedAmount:  decimal.Zero,
		ProcessedAt:    e.now(),
	}
	retryOn := cycle.AddDays(rc.Today, 1)
	if !out.Escalated {
		rec.Next = sub.NextOccurrence(retryOn, sub.Attributes.Clone())
	}

	nextID, err := e.store.RecordOutcome(ctx, rec)
	if err != nil {
		return contain(out, err)
	}
	if rec.Next != nil {
		out.NextSubscriptionID = nextID
		out.NextPaymentDate = &retryOn
	}

	if err := e.groups.ScheduleCancellationIfEligible(ctx, sub.CustomerID, sub.ProductID); err != nil {
		out.warn("failed to schedule group pricing cancellation", err)
	}

	kind := NotifyPaymentFailed
	if out.Escalated {
		kind = NotifyFinalNotice
	}
	e.notify(ctx, &out, Notification{
		Kind:           kind,
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Context: map[string]string{
			"product_name":   sub.ProductName,
			"amount":         out.Amount.StringFixed(2),
			"currency":       sub.Currency,
			"failure_streak": strconv.Itoa(out.FailureStreak),
			"error":          result.ErrorMessage,
		},
	})
	return out, nil
}

func (e *Engine) succeeded(ctx context.Context, rc RunContext, sub *Subscription, card *Card, hasSchedule bool, plan nextPlan, result ChargeResult, out Outcome) (Outcome, error) {
	out.Kind = OutcomeSuccess
	out.TransactionID = result.TransactionID

	rec := OutcomeRecord{
		SubscriptionID: sub.ID,
		Status:         StatusComplete,
		TransactionID:  result.TransactionID,
		ChargedAmount:  out.Amount,
		ProcessedAt:    e.now(),
	}
	continues := hasSchedule && !plan.finished
	if continues {
		period, frequency, _ := sub.Schedule()
		rec.Next = sub.NextOccurrence(plan.processOn, successorAttributes(sub, schedule{period, frequency}, plan.intended))
	}

	nextID, err := e.store.RecordOutcome(ctx, rec)
	if err != nil {
		return contain(out, err)
	}
	out.Finished = hasSchedule && plan.finished
	if continues {
		out.NextSubscriptionID = nextID
		out.NextPaymentDate = &plan.processOn
		out.IntendedBillingDate = &plan.intended
	}

	orderID, err := e.orders.CreateOrder(ctx, orderRequest(sub, out.Amount, result.TransactionID, false), card.ID)
	if err != nil {
		out.warn("failed to create order", err)
	}
	out.OrderID = orderID

	if !continues {
		if err := e.orders.CancelSubscription(ctx, sub.OriginalOrderLineID); err != nil {
			out.warn("failed to clean up subscription", err)
		}
		return out, nil
	}

	if orderID != 0 {
		if err := e.orders.AddLicense(ctx, license(sub, orderID, plan.processOn)); err != nil {
			out.warn("failed to add license", err)
		}
	}
	if err := e.groups.CreateGroupPricing(ctx, sub.ProductID, sub.CustomerID); err != nil {
		out.warn("failed to create group pricing", err)
	}
	return out, nil
}

func (e *Engine) notify(ctx context.Context, out *Outcome, n Notification) {
	n.CreatedAt = e.now()
	if err := e.notifier.Notify(ctx, n); err != nil {
		out.warn(fmt.Sprintf("failed to send %s notification", n.Kind), err)
	}
}

// successorAttributes carries schedule metadata forward with a new intended date
func successorAttributes(sub *Subscription, sched schedule, intended time.Time) ScheduleAttributes {
	attrs := sub.Attributes.Clone()
	attrs.Period = sched.period
	attrs.Frequency = sched.frequency
	if maxCycles, ok := sub.MaxCycles(); ok {
		attrs.TotalCycles = &maxCycles
	}
	attrs.IntendedBillingDate = cycle.FormatDate(intended)
	return attrs
}

func orderRequest(sub *Subscription, amount decimal.Decimal, transactionID string, placeholder bool) OrderRequest {
	return OrderRequest{
		SubscriptionID:      sub.ID,
		OriginalOrderLineID: sub.OriginalOrderLineID,
		CustomerID:          sub.CustomerID,
		ProductID:           sub.ProductID,
		ProductName:         sub.ProductName,
		ProductModel:        sub.ProductModel,
		Amount:              amount,
		Currency:            sub.Currency,
		TransactionID:       transactionID,
		Placeholder:         placeholder,
	}
}

func license(sub *Subscription, orderID int64, nextDate time.Time) License {
	return License{
		OrderID:      orderID,
		ProductID:    sub.ProductID,
		CustomerID:   sub.CustomerID,
		NextDate:     nextDate,
		Domain:       sub.Attributes.Domain,
		ProductName:  sub.ProductName,
		ProductModel: sub.ProductModel,
	}
}

// contain turns a per-subscription error into an errored outcome. Store failures
// are passed through so the run aborts.
func contain(out Outcome, err error) (Outcome, error) {
	if errors.Is(err, ErrStore) {
		out.Kind = OutcomeErrored
		out.Message = err.Error()
		return out, err
	}
	return out.errored(err), nil
}

func (o Outcome) errored(err error) Outcome {
	o.Kind = OutcomeErrored
	o.Message = err.Error()
	return o
}

func (o *Outcome) warn(msg string, err error) {
	o.Warnings = append(o.Warnings, fmt.Sprintf("%s: %v", msg, err))
}
