package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeRequest is a single off-session charge against a saved card
type ChargeRequest struct {
	SubscriptionID int64
	CustomerID     int64
	Amount         decimal.Decimal
	Currency       string
	Card           *Card
	Description    string
	// IdempotencyKey lets the gateway collapse retries of the same occurrence
	IdempotencyKey string
}

// ChargeResult is the gateway's answer to a charge
type ChargeResult struct {
	Success       bool
	TransactionID string
	ErrorMessage  string
}

// PaymentGateway collects money from a saved card.
// A declined charge is reported through ChargeResult; a returned error means the
// gateway could not be reached and is treated as a failed attempt.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// OrderRequest describes the storefront order recorded for a processed occurrence
type OrderRequest struct {
	SubscriptionID      int64
	OriginalOrderLineID int64
	CustomerID          int64
	ProductID           int64
	ProductName         string
	ProductModel        string
	Amount              decimal.Decimal
	Currency            string
	TransactionID       string
	Placeholder         bool
}

// License extends a customer's entitlement until the next charge date
type License struct {
	OrderID      int64
	ProductID    int64
	CustomerID   int64
	NextDate     time.Time
	Domain       string
	ProductName  string
	ProductModel string
}

// OrderService records orders and licenses in the storefront
type OrderService interface {
	CreateOrder(ctx context.Context, req OrderRequest, cardID int64) (int64, error)
	AddLicense(ctx context.Context, license License) error
	// CancelSubscription cleans up a subscription whose source order line is gone
	CancelSubscription(ctx context.Context, originalOrderLineID int64) error
}

// Totals is the storefront's current price for an occurrence
type Totals struct {
	Subtotal decimal.Decimal
	Total    decimal.Decimal
}

// PricingService re-evaluates what an occurrence should cost today
type PricingService interface {
	RecomputeTotals(ctx context.Context, sub *Subscription) (Totals, error)
}

// CardDirectory looks up saved cards
type CardDirectory interface {
	GetCard(ctx context.Context, cardID int64) (*Card, error)
	// FindReplacementCard returns another usable card for the customer or ErrNotFound
	FindReplacementCard(ctx context.Context, customerID int64, asOf time.Time) (*Card, error)
}

// CardInvalidator is implemented by a CardDirectory that caches cards. The
// CardGuard drops a card it has just replaced.
type CardInvalidator interface {
	Invalidate(cardID int64)
}

// GroupPricingManager maintains group discounts tied to a product subscription
type GroupPricingManager interface {
	CreateGroupPricing(ctx context.Context, productID, customerID int64) error
	ScheduleCancellationIfEligible(ctx context.Context, customerID, productID int64) error
}

// NotificationKind names a customer notification
type NotificationKind string

const (
	NotifyCardUpdateRequired NotificationKind = "card_update_required"
	NotifyFinalNotice        NotificationKind = "final_notice"
	NotifyPaymentFailed      NotificationKind = "payment_failed"
)

// Notification is a request to tell a customer about their subscription
type Notification struct {
	Kind           NotificationKind  `json:"kind"`
	SubscriptionID int64             `json:"subscription_id"`
	CustomerID     int64             `json:"customer_id"`
	Context        map[string]string `json:"context,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Notifier delivers notifications. Delivery problems never change an outcome.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// OutcomeRecord is everything persisted when an occurrence is processed.
// Marking the current occurrence and inserting Next happen in one transaction.
type OutcomeRecord struct {
	SubscriptionID int64
	Status         Status
	Skipped        bool
	TransactionID  string
	ErrorMessage   string
	ChargedAmount  decimal.Decimal
	ProcessedAt    time.Time
	Next           *Subscription
}

// Store persists subscription occurrences
type Store interface {
	// DueSubscriptionIDs returns scheduled occurrences due on or before today, ascending by id
	DueSubscriptionIDs(ctx context.Context, today time.Time) ([]int64, error)
	GetSubscription(ctx context.Context, id int64) (*Subscription, error)
	// History returns processed occurrences of a lineage older than beforeID, most recent first
	History(ctx context.Context, originalOrderLineID, beforeID int64) ([]Attempt, error)
	UpdateAmount(ctx context.Context, id int64, amount decimal.Decimal) error
	ReplaceCard(ctx context.Context, id, cardID int64) error
	// RecordOutcome returns the id of the inserted next occurrence, or 0.
	// It fails with ErrAlreadyProcessed when the occurrence is no longer scheduled.
	RecordOutcome(ctx context.Context, rec OutcomeRecord) (int64, error)
}

// Pacer spaces out consecutive gateway calls
type Pacer interface {
	Wait(ctx context.Context) error
}

// ReportSink receives the result of every run
type ReportSink interface {
	Publish(ctx context.Context, result *RunResult) error
}

// Locker guards a run against concurrent processes
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// RunObserver is told about every outcome and finished run
type RunObserver interface {
	ObserveOutcome(o Outcome)
	ObserveRun(result *RunResult)
}
