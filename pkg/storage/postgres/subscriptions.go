package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/cycle"
)

const subscriptionColumns = `id, customer_id, product_id, product_name, product_model,
	original_order_line_id, amount, currency, billing_period, billing_frequency,
	total_billing_cycles, next_payment_date, card_id, skip_next_payment, status, skipped,
	transaction_id, error_message, charged_amount, processed_at, attributes,
	created_at, updated_at`

// SubscriptionStore implements billing.Store on the subscription_payments table
type SubscriptionStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSubscriptionStore creates a new subscription store
func NewSubscriptionStore(db *sql.DB, logger *logrus.Logger) *SubscriptionStore {
	return &SubscriptionStore{db: db, logger: logger}
}

// errCorruptRecord marks a row that was read but could not be decoded
var errCorruptRecord = errors.New("corrupt subscription record")

// storeError marks err as a persistence failure
func storeError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", billing.ErrStore, op, err)
}

// DueSubscriptionIDs returns scheduled occurrences due on or before today, ascending by id
func (s *SubscriptionStore) DueSubscriptionIDs(ctx context.Context, today time.Time) ([]int64, error) {
	query := `
		SELECT id FROM subscription_payments
		WHERE status = $1 AND next_payment_date <= $2
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, billing.StatusScheduled, cycle.Date(today))
	if err != nil {
		return nil, storeError("select due subscriptions", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("scan due subscription", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate due subscriptions", err)
	}
	return ids, nil
}

// GetSubscription loads one occurrence
func (s *SubscriptionStore) GetSubscription(ctx context.Context, id int64) (*billing.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscription_payments WHERE id = $1`

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %d: %w", id, billing.ErrNotFound)
	}
	if errors.Is(err, errCorruptRecord) {
		return nil, fmt.Errorf("subscription %d: %w", id, err)
	}
	if err != nil {
		return nil, storeError(fmt.Sprintf("get subscription %d", id), err)
	}
	return sub, nil
}

// History returns processed occurrences of a lineage older than beforeID, most recent first
func (s *SubscriptionStore) History(ctx context.Context, originalOrderLineID, beforeID int64) ([]billing.Attempt, error) {
	query := `
		SELECT id, status, skipped, next_payment_date
		FROM subscription_payments
		WHERE original_order_line_id = $1 AND id < $2 AND status <> $3
		ORDER BY id DESC
	`

	rows, err := s.db.QueryContext(ctx, query, originalOrderLineID, beforeID, billing.StatusScheduled)
	if err != nil {
		return nil, storeError("load payment history", err)
	}
	defer rows.Close()

	var history []billing.Attempt
	for rows.Next() {
		var a billing.Attempt
		var status string
		if err := rows.Scan(&a.SubscriptionID, &status, &a.Skipped, &a.NextPaymentDate); err != nil {
			return nil, storeError("scan payment history", err)
		}
		a.Status = billing.Status(status)
		history = append(history, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate payment history", err)
	}
	return history, nil
}

// UpdateAmount stores a corrected price on an occurrence
func (s *SubscriptionStore) UpdateAmount(ctx context.Context, id int64, amount decimal.Decimal) error {
	query := `UPDATE subscription_payments SET amount = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	return s.updateOne(ctx, "update amount", id, query, amount, id)
}

// ReplaceCard points an occurrence at another saved card
func (s *SubscriptionStore) ReplaceCard(ctx context.Context, id, cardID int64) error {
	query := `UPDATE subscription_payments SET card_id = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	return s.updateOne(ctx, "replace card", id, query, cardID, id)
}

func (s *SubscriptionStore) updateOne(ctx context.Context, op string, id int64, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeError(op, err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %d: %w", id, billing.ErrNotFound)
	}
	return nil
}

// RecordOutcome marks the occurrence processed and inserts its successor in one
// transaction. Only a still-scheduled occurrence can be marked.
func (s *SubscriptionStore) RecordOutcome(ctx context.Context, rec billing.OutcomeRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeError("begin transaction", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE subscription_payments
		SET status = $1, skipped = $2, skip_next_payment = FALSE, transaction_id = $3,
			error_message = $4, charged_amount = $5, processed_at = $6, updated_at = CURRENT_TIMESTAMP
		WHERE id = $7 AND status = $8
	`
	result, err := tx.ExecContext(ctx, query,
		rec.Status,
		rec.Skipped,
		nullString(rec.TransactionID),
		nullString(rec.ErrorMessage),
		rec.ChargedAmount,
		rec.ProcessedAt,
		rec.SubscriptionID,
		billing.StatusScheduled,
	)
	if err != nil {
		return 0, storeError("mark occurrence processed", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storeError("mark occurrence processed", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("subscription %d: %w", rec.SubscriptionID, billing.ErrAlreadyProcessed)
	}

	var nextID int64
	if rec.Next != nil {
		if nextID, err = insertSubscription(ctx, tx, rec.Next); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storeError("commit outcome", err)
	}

	s.logger.WithFields(logrus.Fields{
		"subscription_id": rec.SubscriptionID,
		"status":          rec.Status,
		"next_id":         nextID,
	}).Debug("Recorded occurrence outcome")
	return nextID, nil
}

// Create inserts a new scheduled occurrence and sets its id
func (s *SubscriptionStore) Create(ctx context.Context, sub *billing.Subscription) error {
	id, err := insertSubscription(ctx, s.db, sub)
	if err != nil {
		return err
	}
	sub.ID = id
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertSubscription(ctx context.Context, q queryRower, sub *billing.Subscription) (int64, error) {
	attrs, err := json.Marshal(sub.Attributes)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	status := sub.Status
	if status == "" {
		status = billing.StatusScheduled
	}

	query := `
		INSERT INTO subscription_payments (
			customer_id, product_id, product_name, product_model, original_order_line_id,
			amount, currency, billing_period, billing_frequency, total_billing_cycles,
			next_payment_date, card_id, skip_next_payment, status, attributes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	var id int64
	err = q.QueryRowContext(ctx, query,
		sub.CustomerID,
		sub.ProductID,
		sub.ProductName,
		sub.ProductModel,
		sub.OriginalOrderLineID,
		sub.Amount,
		sub.Currency,
		nullString(sub.Period),
		nullInt(sub.Frequency),
		nullIntPtr(sub.TotalCycles),
		cycle.Date(sub.NextPaymentDate),
		sub.CardID,
		sub.SkipNextPayment,
		status,
		string(attrs),
	).Scan(&id)
	if err != nil {
		return 0, storeError("insert subscription", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*billing.Subscription, error) {
	var (
		sub           billing.Subscription
		period        sql.NullString
		frequency     sql.NullInt64
		totalCycles   sql.NullInt64
		status        string
		transactionID sql.NullString
		errorMessage  sql.NullString
		processedAt   sql.NullTime
		attrs         []byte
	)

	err := row.Scan(
		&sub.ID,
		&sub.CustomerID,
		&sub.ProductID,
		&sub.ProductName,
		&sub.ProductModel,
		&sub.OriginalOrderLineID,
		&sub.Amount,
		&sub.Currency,
		&period,
		&frequency,
		&totalCycles,
		&sub.NextPaymentDate,
		&sub.CardID,
		&sub.SkipNextPayment,
		&status,
		&sub.Skipped,
		&transactionID,
		&errorMessage,
		&sub.ChargedAmount,
		&processedAt,
		&attrs,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Status = billing.Status(status)
	sub.Period = period.String
	sub.Frequency = int(frequency.Int64)
	if totalCycles.Valid {
		n := int(totalCycles.Int64)
		sub.TotalCycles = &n
	}
	sub.TransactionID = transactionID.String
	sub.ErrorMessage = errorMessage.String
	if processedAt.Valid {
		sub.ProcessedAt = &processedAt.Time
	}
	sub.NextPaymentDate = cycle.Date(sub.NextPaymentDate)

	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &sub.Attributes); err != nil {
			return nil, fmt.Errorf("%w: attributes: %v", errCorruptRecord, err)
		}
	}
	return &sub, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func nullIntPtr(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
