package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rebill/pkg/cycle"
)

func TestEngine_Process_Success(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	ctx := context.Background()

	out, err := f.engine.Process(ctx, runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, "txn-10", out.TransactionID)
	assert.True(t, decimal.RequireFromString("19.99").Equal(out.Amount))
	require.NotNil(t, out.NextPaymentDate)
	assert.Equal(t, "2025-04-15", cycle.FormatDate(*out.NextPaymentDate))
	assert.Empty(t, out.Warnings)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, "rebill-10-20250315", req.IdempotencyKey)
	assert.Equal(t, int64(1), req.Card.ID)
	assert.Equal(t, "USD", req.Currency)

	cur := f.store.get(10)
	assert.Equal(t, StatusComplete, cur.Status)
	assert.Equal(t, "txn-10", cur.TransactionID)

	next := f.store.get(out.NextSubscriptionID)
	require.NotNil(t, next)
	assert.Equal(t, StatusScheduled, next.Status)
	assert.Equal(t, "2025-04-15", cycle.FormatDate(next.NextPaymentDate))
	assert.Equal(t, "2025-04-15", next.Attributes.IntendedBillingDate)
	assert.Equal(t, "example.com", next.Attributes.Domain)
	assert.Equal(t, int64(500), next.OriginalOrderLineID)

	require.Len(t, f.shop.orders, 1)
	assert.False(t, f.shop.orders[0].Placeholder)
	assert.Equal(t, "txn-10", f.shop.orders[0].TransactionID)
	require.Len(t, f.shop.licenses, 1)
	assert.Equal(t, "2025-04-15", cycle.FormatDate(f.shop.licenses[0].NextDate))
	assert.Equal(t, "example.com", f.shop.licenses[0].Domain)
	assert.Equal(t, int64(1001), f.shop.licenses[0].OrderID)
	assert.Equal(t, []int64{42}, f.shop.groupPricing)
	assert.Empty(t, f.shop.cancelled)
	assert.Empty(t, f.notifier.sent)
}

func TestEngine_IntendedBillingDate(t *testing.T) {
	tests := []struct {
		name         string
		attr         string
		priorFailed  int
		nextPayment  string
		today        string
		wantNext     string
		wantIntended string
	}{
		{
			name:         "explicit attribute wins",
			attr:         "2025-03-01",
			nextPayment:  "2025-03-03",
			today:        "2025-03-03",
			wantNext:     "2025-04-01",
			wantIntended: "2025-04-01",
		},
		{
			name:         "back-dated by prior failures",
			priorFailed:  2,
			nextPayment:  "2025-03-17",
			today:        "2025-03-17",
			wantNext:     "2025-04-15",
			wantIntended: "2025-04-15",
		},
		{
			name:         "unparseable attribute falls back to today",
			attr:         "15/03/2025",
			nextPayment:  "2025-03-10",
			today:        "2025-03-20",
			wantNext:     "2025-04-20",
			wantIntended: "2025-04-20",
		},
		{
			name:         "catch-up processes tomorrow and carries due date",
			attr:         "2025-02-03",
			nextPayment:  "2025-03-15",
			today:        "2025-03-15",
			wantNext:     "2025-03-16",
			wantIntended: "2025-03-03",
		},
		{
			name:         "next cycle due today is caught up tomorrow",
			attr:         "2025-02-15",
			nextPayment:  "2025-03-15",
			today:        "2025-03-15",
			wantNext:     "2025-03-16",
			wantIntended: "2025-03-15",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var subs []*Subscription
			for i := 0; i < tt.priorFailed; i++ {
				failed := monthly(int64(i+1), tt.nextPayment)
				failed.Status = StatusFailed
				subs = append(subs, failed)
			}
			cur := monthly(100, tt.nextPayment)
			cur.Attributes.IntendedBillingDate = tt.attr
			subs = append(subs, cur)

			f := newFixture(subs...)
			out, err := f.engine.Process(context.Background(), runContext(tt.today), 100)
			require.NoError(t, err)
			require.Equal(t, OutcomeSuccess, out.Kind, out.Message)

			next := f.store.get(out.NextSubscriptionID)
			require.NotNil(t, next)
			assert.Equal(t, tt.wantNext, cycle.FormatDate(next.NextPaymentDate))
			assert.Equal(t, tt.wantIntended, next.Attributes.IntendedBillingDate)
			assert.Equal(t, tt.wantIntended, cycle.FormatDate(*out.IntendedBillingDate))
		})
	}
}

func TestEngine_CatchUpDailySchedule(t *testing.T) {
	sub := monthly(1, "2025-03-05")
	sub.Period = "day"
	sub.Frequency = 1
	sub.Attributes.IntendedBillingDate = "2025-03-05"
	f := newFixture(sub)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 1)
	require.NoError(t, err)

	next := f.store.get(out.NextSubscriptionID)
	assert.Equal(t, "2025-03-16", cycle.FormatDate(next.NextPaymentDate))
	assert.Equal(t, "2025-03-06", next.Attributes.IntendedBillingDate)
	assert.Equal(t, "day", next.Attributes.Period)
}

func TestEngine_SkipFlag(t *testing.T) {
	sub := monthly(10, "2025-03-15")
	sub.SkipNextPayment = true
	f := newFixture(sub)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkippedByFlag, out.Kind)
	assert.True(t, out.Amount.IsZero())
	assert.Empty(t, f.gateway.requests)

	require.Len(t, f.shop.orders, 1)
	assert.True(t, f.shop.orders[0].Placeholder)
	assert.True(t, f.shop.orders[0].Amount.IsZero())

	cur := f.store.get(10)
	assert.Equal(t, StatusComplete, cur.Status)
	assert.True(t, cur.Skipped)
	assert.False(t, cur.SkipNextPayment)

	scheduled := f.store.scheduled()
	require.Len(t, scheduled, 1)
	assert.False(t, scheduled[0].SkipNextPayment)
	assert.Equal(t, "2025-04-15", cycle.FormatDate(scheduled[0].NextPaymentDate))
	assert.Equal(t, "2025-04-15", scheduled[0].Attributes.IntendedBillingDate)

	require.Len(t, f.shop.licenses, 1)
	assert.Equal(t, "2025-04-15", cycle.FormatDate(f.shop.licenses[0].NextDate))
}

func TestEngine_SkipFlagWithoutSchedule(t *testing.T) {
	sub := monthly(10, "2025-03-15")
	sub.SkipNextPayment = true
	sub.Period, sub.Frequency = "", 0
	sub.Attributes = ScheduleAttributes{}
	f := newFixture(sub)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkippedByFlag, out.Kind)
	assert.Len(t, f.shop.orders, 1)
	assert.Empty(t, f.shop.licenses)
	assert.Empty(t, f.store.scheduled())
}

func TestEngine_NoValidCard(t *testing.T) {
	sub := monthly(10, "2025-03-15")
	f := newFixture(sub)
	f.cards.cards[1].IsDeleted = true

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkippedNoCard, out.Kind)
	assert.Empty(t, f.gateway.requests)
	assert.Empty(t, f.store.records)

	cur := f.store.get(10)
	assert.Equal(t, StatusScheduled, cur.Status)
	assert.Equal(t, "2025-03-15", cycle.FormatDate(cur.NextPaymentDate))
	assert.Equal(t, []NotificationKind{NotifyCardUpdateRequired}, f.notifier.kinds())
}

func TestEngine_ExpiredCardReplaced(t *testing.T) {
	sub := monthly(10, "2025-03-15")
	f := newFixture(sub)
	f.cards.cards[1].Expiry = "0225"
	f.cards.cards[2] = &Card{ID: 2, CustomerID: 7, Brand: "mastercard", LastFour: "4444", Expiry: "0128"}

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, int64(2), f.store.replacedCards[10])
	require.Len(t, f.gateway.requests, 1)
	assert.Equal(t, int64(2), f.gateway.requests[0].Card.ID)
	assert.Equal(t, []int64{2}, f.shop.orderCards)

	next := f.store.get(out.NextSubscriptionID)
	assert.Equal(t, int64(2), next.CardID)
}

func TestEngine_FailureReschedules(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.gateway.chargeFunc = declineAll("insufficient funds")

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.Equal(t, "insufficient funds", out.Message)
	assert.Equal(t, 1, out.FailureStreak)
	assert.False(t, out.Escalated)

	cur := f.store.get(10)
	assert.Equal(t, StatusFailed, cur.Status)
	assert.Equal(t, "insufficient funds", cur.ErrorMessage)

	retry := f.store.get(out.NextSubscriptionID)
	require.NotNil(t, retry)
	assert.Equal(t, "2025-03-16", cycle.FormatDate(retry.NextPaymentDate))
	assert.True(t, decimal.RequireFromString("19.99").Equal(retry.Amount))
	assert.Equal(t, int64(1), retry.CardID)
	assert.Equal(t, cur.Attributes, retry.Attributes)

	assert.Equal(t, []int64{42}, f.shop.cancellationChecked)
	assert.Equal(t, []NotificationKind{NotifyPaymentFailed}, f.notifier.kinds())
	assert.Empty(t, f.shop.orders)
}

func TestEngine_FailureReachesMaxAttempts(t *testing.T) {
	first := monthly(1, "2025-03-13")
	first.Status = StatusFailed
	second := monthly(2, "2025-03-14")
	second.Status = StatusFailed
	f := newFixture(first, second, monthly(3, "2025-03-15"))
	f.gateway.chargeFunc = declineAll("card declined")

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 3)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.Equal(t, 3, out.FailureStreak)
	assert.True(t, out.Escalated)
	assert.Zero(t, out.NextSubscriptionID)
	assert.Nil(t, out.NextPaymentDate)
	assert.Empty(t, f.store.scheduled())
	assert.Equal(t, []NotificationKind{NotifyFinalNotice}, f.notifier.kinds())
	assert.Equal(t, "3", f.notifier.sent[0].Context["failure_streak"])
}

func TestEngine_GatewayErrorCountsAsFailure(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.gateway.chargeFunc = func(ChargeRequest) (ChargeResult, error) {
		return ChargeResult{}, errors.New("connection reset by peer")
	}

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailure, out.Kind)
	assert.Equal(t, "connection reset by peer", out.Message)
	assert.Equal(t, "connection reset by peer", f.store.get(10).ErrorMessage)
	assert.NotZero(t, out.NextSubscriptionID)
}

func TestEngine_GatewayUnavailableLeavesOccurrenceScheduled(t *testing.T) {
	first := monthly(1, "2025-03-13")
	first.Status = StatusFailed
	second := monthly(2, "2025-03-14")
	second.Status = StatusFailed
	f := newFixture(first, second, monthly(3, "2025-03-15"))
	f.gateway.chargeFunc = func(ChargeRequest) (ChargeResult, error) {
		return ChargeResult{}, fmt.Errorf("stripe: %w", fmt.Errorf("rate limit exceeded: %w", ErrGatewayUnavailable))
	}

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 3)
	require.NoError(t, err)

	assert.Equal(t, OutcomeErrored, out.Kind)
	assert.Contains(t, out.Message, "rate limit exceeded")
	assert.False(t, out.Escalated)
	assert.Zero(t, out.FailureStreak)
	assert.Empty(t, f.store.records)
	assert.Empty(t, f.notifier.kinds())
	assert.Empty(t, f.shop.cancellationChecked)
	assert.Equal(t, StatusScheduled, f.store.get(3).Status)
	assert.Len(t, f.gateway.requests, 1)
}

func TestEngine_CancelledBeforeChargeLeavesOccurrenceScheduled(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	ctx, cancel := context.WithCancel(context.Background())
	f.shop.totalsFunc = func(sub *Subscription) (Totals, error) {
		cancel()
		return Totals{Subtotal: sub.Amount, Total: sub.Amount}, nil
	}

	out, err := f.engine.Process(ctx, runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeErrored, out.Kind)
	assert.Empty(t, f.gateway.requests)
	assert.Empty(t, f.store.records)
	assert.Equal(t, StatusScheduled, f.store.get(10).Status)
}

func TestEngine_DeclineWithoutMessage(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.gateway.chargeFunc = declineAll("")

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)
	assert.Equal(t, "payment declined", out.Message)
}

func TestEngine_PriceDrift(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.shop.totalsFunc = func(sub *Subscription) (Totals, error) {
		return Totals{Subtotal: decimal.RequireFromString("24.99"), Total: decimal.RequireFromString("22.49")}, nil
	}

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("24.99").Equal(f.store.updatedAmounts[10]))
	require.Len(t, f.gateway.requests, 1)
	assert.True(t, decimal.RequireFromString("22.49").Equal(f.gateway.requests[0].Amount))
	assert.True(t, decimal.RequireFromString("22.49").Equal(out.Amount))

	next := f.store.get(out.NextSubscriptionID)
	assert.True(t, decimal.RequireFromString("24.99").Equal(next.Amount))
}

func TestEngine_ZeroTotalSettlesWithoutGateway(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.shop.totalsFunc = func(sub *Subscription) (Totals, error) {
		return Totals{Subtotal: sub.Amount, Total: decimal.Zero}, nil
	}

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.True(t, out.AutoSettled)
	assert.True(t, out.Amount.IsZero())
	assert.False(t, out.Collected())
	assert.Empty(t, f.gateway.requests)
	assert.NotZero(t, out.NextSubscriptionID)
}

func TestEngine_NoScheduleContextCleansUp(t *testing.T) {
	sub := monthly(10, "2025-03-15")
	sub.Period, sub.Frequency = "", 0
	sub.Attributes = ScheduleAttributes{Domain: "example.com"}
	f := newFixture(sub)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.Zero(t, out.NextSubscriptionID)
	assert.Empty(t, f.store.scheduled())
	assert.Equal(t, []int64{500}, f.shop.cancelled)
	assert.Len(t, f.shop.orders, 1)
	assert.Empty(t, f.shop.licenses)
}

func TestEngine_ScheduleFromLegacyAttributes(t *testing.T) {
	sub := monthly(10, "2025-03-15")
	sub.Period, sub.Frequency = "", 0
	sub.Attributes = AttributesFromMap(map[string]string{
		AttrBillingPeriod:    "week",
		AttrBillingFrequency: "2",
	})
	f := newFixture(sub)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)
	require.NotNil(t, out.NextPaymentDate)
	assert.Equal(t, "2025-03-29", cycle.FormatDate(*out.NextPaymentDate))
}

func TestEngine_TotalCyclesFinishes(t *testing.T) {
	cycles := 2
	done := monthly(1, "2025-02-15")
	done.Status = StatusComplete
	cur := monthly(2, "2025-03-15")
	done.TotalCycles, cur.TotalCycles = &cycles, &cycles
	f := newFixture(done, cur)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 2)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.True(t, out.Finished)
	assert.Empty(t, f.store.scheduled())
	assert.Equal(t, []int64{500}, f.shop.cancelled)
	assert.Len(t, f.gateway.requests, 1)
}

func TestEngine_SkippedCyclesDoNotCountTowardsTotal(t *testing.T) {
	cycles := 2
	skipped := monthly(1, "2025-02-15")
	skipped.Status = StatusComplete
	skipped.Skipped = true
	cur := monthly(2, "2025-03-15")
	cur.TotalCycles = &cycles
	f := newFixture(skipped, cur)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 2)
	require.NoError(t, err)
	assert.False(t, out.Finished)
	assert.NotZero(t, out.NextSubscriptionID)
}

func TestEngine_InvalidScheduleIsContained(t *testing.T) {
	for _, tc := range []struct {
		name      string
		period    string
		frequency int
		want      error
	}{
		{"unknown period", "lunar", 1, cycle.ErrInvalidPeriod},
		{"negative frequency", "month", -1, cycle.ErrInvalidFrequency},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sub := monthly(10, "2025-03-15")
			sub.Period, sub.Frequency = tc.period, tc.frequency
			f := newFixture(sub)

			out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
			require.NoError(t, err)

			assert.Equal(t, OutcomeErrored, out.Kind)
			assert.Contains(t, out.Message, tc.want.Error())
			assert.Empty(t, f.gateway.requests)
			assert.Empty(t, f.store.records)
			assert.Equal(t, StatusScheduled, f.store.get(10).Status)
		})
	}
}

func TestEngine_PricingErrorIsContained(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.shop.totalsFunc = func(sub *Subscription) (Totals, error) {
		return Totals{}, errors.New("storefront unavailable")
	}

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeErrored, out.Kind)
	assert.Contains(t, out.Message, "storefront unavailable")
	assert.Empty(t, f.gateway.requests)
}

func TestEngine_StoreErrorAborts(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.store.getErr = errors.Join(ErrStore, errors.New("connection refused"))

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, OutcomeErrored, out.Kind)
}

func TestEngine_RecordStoreErrorAborts(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.store.recordErr = errors.Join(ErrStore, errors.New("tx aborted"))

	_, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	assert.ErrorIs(t, err, ErrStore)
	assert.Empty(t, f.shop.orders)
}

func TestEngine_AlreadyProcessed(t *testing.T) {
	sub := monthly(10, "2025-03-15")
	sub.Status = StatusComplete
	f := newFixture(sub)

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeErrored, out.Kind)
	assert.Contains(t, out.Message, ErrAlreadyProcessed.Error())
	assert.Empty(t, f.gateway.requests)
}

func TestEngine_MissingSubscription(t *testing.T) {
	f := newFixture()

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 99)
	require.NoError(t, err)
	assert.Equal(t, OutcomeErrored, out.Kind)
	assert.Equal(t, int64(99), out.SubscriptionID)
}

func TestEngine_CollaboratorErrorsBecomeWarnings(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.shop.createOrderFunc = func(OrderRequest) (int64, error) {
		return 0, errors.New("orders api down")
	}

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, out.Kind)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "orders api down")
	assert.Empty(t, f.shop.licenses)
	assert.NotZero(t, out.NextSubscriptionID)
}

func TestEngine_NotifierErrorBecomesWarning(t *testing.T) {
	f := newFixture(monthly(10, "2025-03-15"))
	f.gateway.chargeFunc = declineAll("declined")
	f.notifier.err = errors.New("smtp timeout")

	out, err := f.engine.Process(context.Background(), runContext("2025-03-15"), 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailure, out.Kind)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "smtp timeout")
}

func TestEngine_Preview(t *testing.T) {
	skip := monthly(1, "2025-03-15")
	skip.SkipNextPayment = true
	noCard := monthly(2, "2025-03-15")
	noCard.CardID = 99
	bad := monthly(3, "2025-03-15")
	bad.Period = "lunar"
	ok := monthly(4, "2025-03-15")

	f := newFixture(skip, noCard, bad, ok)
	f.cards.findErr = ErrNotFound
	rc := runContext("2025-03-15")

	want := map[int64]OutcomeKind{
		1: OutcomeSkippedByFlag,
		2: OutcomeSkippedNoCard,
		3: OutcomeErrored,
		4: OutcomePending,
	}
	for id, kind := range want {
		out, err := f.engine.Preview(context.Background(), rc, id)
		require.NoError(t, err)
		assert.Equal(t, kind, out.Kind, "subscription %d", id)
	}

	assert.Empty(t, f.gateway.requests)
	assert.Empty(t, f.store.records)
	assert.Empty(t, f.notifier.sent)
	assert.Len(t, f.store.scheduled(), 4)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "rebill-7-20250102", IdempotencyKey(7, date("2025-01-02")))
}
