package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/rebill/pkg/cycle"
)

var (
	// ErrStore marks persistence failures; they abort a run
	ErrStore = errors.New("subscription store failure")
	// ErrNotFound is returned when a subscription or card does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed is returned when an occurrence is no longer scheduled
	ErrAlreadyProcessed = errors.New("occurrence already processed")
	// ErrNoValidCard is returned by the card guard when no usable card exists
	ErrNoValidCard = errors.New("no valid card on file")
	// ErrLockHeld is returned by a Locker when another process owns the lock
	ErrLockHeld = errors.New("run lock held by another process")
	// ErrRunInProgress is returned by Runner.Run when the day's batch is already running
	ErrRunInProgress = errors.New("billing run already in progress")
	// ErrGatewayUnavailable is returned by a PaymentGateway that never sent the
	// charge to the provider; the occurrence stays scheduled
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Status is the lifecycle state of a subscription occurrence
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Subscription is one recurring payment slot.
// Every occurrence of the same subscription shares OriginalOrderLineID.
type Subscription struct {
	ID                  int64              `json:"id"`
	CustomerID          int64              `json:"customer_id"`
	ProductID           int64              `json:"product_id"`
	ProductName         string             `json:"product_name"`
	ProductModel        string             `json:"product_model,omitempty"`
	OriginalOrderLineID int64              `json:"original_order_line_id"`
	Amount              decimal.Decimal    `json:"amount"`
	Currency            string             `json:"currency"`
	Period              string             `json:"period,omitempty"`
	Frequency           int                `json:"frequency,omitempty"`
	TotalCycles         *int               `json:"total_cycles,omitempty"`
	NextPaymentDate     time.Time          `json:"next_payment_date"`
	CardID              int64              `json:"card_id"`
	SkipNextPayment     bool               `json:"skip_next_payment"`
	Status              Status             `json:"status"`
	Skipped             bool               `json:"skipped,omitempty"`
	TransactionID       string             `json:"transaction_id,omitempty"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	ChargedAmount       decimal.Decimal    `json:"charged_amount"`
	ProcessedAt         *time.Time         `json:"processed_at,omitempty"`
	Attributes          ScheduleAttributes `json:"attributes"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Schedule returns the billing period and frequency, preferring the columns over
// the legacy attribute bag. ok is false when either is missing, meaning the
// subscription has no schedule context. A negative frequency is returned as is
// so it can be rejected as malformed.
func (s *Subscription) Schedule() (period string, frequency int, ok bool) {
	period, frequency = s.Period, s.Frequency
	if period == "" {
		period = s.Attributes.Period
	}
	if frequency == 0 {
		frequency = s.Attributes.Frequency
	}
	return period, frequency, period != "" && frequency != 0
}

// MaxCycles returns the total cycle cap, if any
func (s *Subscription) MaxCycles() (int, bool) {
	if s.TotalCycles != nil {
		return *s.TotalCycles, true
	}
	if s.Attributes.TotalCycles != nil {
		return *s.Attributes.TotalCycles, true
	}
	return 0, false
}

// NextOccurrence builds the scheduled successor of s processed on date
func (s *Subscription) NextOccurrence(date time.Time, attrs ScheduleAttributes) *Subscription {
	return &Subscription{
		CustomerID:          s.CustomerID,
		ProductID:           s.ProductID,
		ProductName:         s.ProductName,
		ProductModel:        s.ProductModel,
		OriginalOrderLineID: s.OriginalOrderLineID,
		Amount:              s.Amount,
		Currency:            s.Currency,
		Period:              s.Period,
		Frequency:           s.Frequency,
		TotalCycles:         s.TotalCycles,
		NextPaymentDate:     cycle.Date(date),
		CardID:              s.CardID,
		Status:              StatusScheduled,
		ChargedAmount:       decimal.Zero,
		Attributes:          attrs,
	}
}

// Card is a saved payment instrument
type Card struct {
	ID                int64  `json:"id"`
	CustomerID        int64  `json:"customer_id"`
	Brand             string `json:"brand"`
	LastFour          string `json:"last_four"`
	Expiry            string `json:"expiry"`
	VaultToken        string `json:"-"`
	GatewayCustomerID string `json:"-"`
	IsDeleted         bool   `json:"is_deleted"`
}

// Attempt is one processed occurrence in a subscription's history
type Attempt struct {
	SubscriptionID  int64     `json:"subscription_id"`
	Status          Status    `json:"status"`
	Skipped         bool      `json:"skipped"`
	NextPaymentDate time.Time `json:"next_payment_date"`
}

// RunContext carries the per-run policy passed to every component
type RunContext struct {
	RunID              string
	Today              time.Time
	MaxFailuresAllowed int
	DryRun             bool
}

// NewRunContext creates a run context for the calendar date of today
func NewRunContext(today time.Time, maxFailures int) RunContext {
	return RunContext{
		RunID:              uuid.NewString(),
		Today:              cycle.Date(today),
		MaxFailuresAllowed: maxFailures,
	}
}

// OutcomeKind classifies what happened to a due occurrence
type OutcomeKind string

const (
	OutcomeSuccess       OutcomeKind = "success"
	OutcomeFailure       OutcomeKind = "failure"
	OutcomeSkippedByFlag OutcomeKind = "skipped_by_flag"
	OutcomeSkippedNoCard OutcomeKind = "skipped_no_card"
	OutcomeErrored       OutcomeKind = "errored"
	OutcomePending       OutcomeKind = "pending"
)

// Outcome is the engine's decision for one due occurrence
type Outcome struct {
	SubscriptionID      int64           `json:"subscription_id"`
	CustomerID          int64           `json:"customer_id"`
	ProductName         string          `json:"product_name"`
	Kind                OutcomeKind     `json:"kind"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	TransactionID       string          `json:"transaction_id,omitempty"`
	Message             string          `json:"message,omitempty"`
	FailureStreak       int             `json:"failure_streak,omitempty"`
	Escalated           bool            `json:"escalated,omitempty"`
	AutoSettled         bool            `json:"auto_settled,omitempty"`
	Finished            bool            `json:"finished,omitempty"`
	OrderID             int64           `json:"order_id,omitempty"`
	NextSubscriptionID  int64           `json:"next_subscription_id,omitempty"`
	NextPaymentDate     *time.Time      `json:"next_payment_date,omitempty"`
	IntendedBillingDate *time.Time      `json:"intended_billing_date,omitempty"`
	Warnings            []string        `json:"warnings,omitempty"`
}

// Collected reports whether money changed hands for this outcome
func (o Outcome) Collected() bool {
	return o.Kind == OutcomeSuccess && o.Amount.IsPositive()
}

// RunResult aggregates the outcomes of one batch
type RunResult struct {
	RunID      string                     `json:"run_id"`
	Date       string                     `json:"date"`
	DryRun     bool                       `json:"dry_run"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Due        int                        `json:"due"`
	Counts     map[OutcomeKind]int        `json:"counts"`
	Collected  map[string]decimal.Decimal `json:"collected"`
	Outcomes   []Outcome                  `json:"outcomes"`
	Aborted    string                     `json:"aborted,omitempty"`
}

// NewRunResult creates an empty result for rc
func NewRunResult(rc RunContext, startedAt time.Time) *RunResult {
	return &RunResult{
		RunID:     rc.RunID,
		Date:      cycle.FormatDate(rc.Today),
		DryRun:    rc.DryRun,
		StartedAt: startedAt,
		Counts:    make(map[OutcomeKind]int),
		Collected: make(map[string]decimal.Decimal),
	}
}

// Add records an outcome
func (r *RunResult) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	r.Counts[o.Kind]++
	if o.Collected() {
		r.Collected[o.Currency] = r.Collected[o.Currency].Add(o.Amount)
	}
}

// Count returns the number of outcomes of kind
func (r *RunResult) Count(kind OutcomeKind) int {
	return r.Counts[kind]
}
