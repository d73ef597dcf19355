package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/billing"
)

// ReadPool hands out connections for reads that tolerate replica lag
type ReadPool interface {
	Replica() *sql.DB
}

// CardStore implements billing.CardDirectory on the saved_cards table
type CardStore struct {
	pool   ReadPool
	logger *logrus.Logger
}

// NewCardStore creates a new card store
func NewCardStore(pool ReadPool, logger *logrus.Logger) *CardStore {
	return &CardStore{pool: pool, logger: logger}
}

const cardColumns = `id, customer_id, brand, last_four, expiry, vault_token, gateway_customer_id, is_deleted`

// GetCard loads a saved card, including deleted ones
func (s *CardStore) GetCard(ctx context.Context, cardID int64) (*billing.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM saved_cards WHERE id = $1`

	card, err := scanCard(s.pool.Replica().QueryRowContext(ctx, query, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %d: %w", cardID, billing.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card %d: %w", cardID, err)
	}
	return card, nil
}

// FindReplacementCard returns the customer's newest card that can be charged on asOf
func (s *CardStore) FindReplacementCard(ctx context.Context, customerID int64, asOf time.Time) (*billing.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM saved_cards
		WHERE customer_id = $1 AND is_deleted = FALSE
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Replica().QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards for customer %d: %w", customerID, err)
	}
	defer rows.Close()

	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		verdict, expiryErr := billing.Evaluate(card, asOf)
		if expiryErr != nil {
			// an unreadable expiry is not a safe replacement
			s.logger.WithField("card_id", card.ID).Warnf("Skipping card with unreadable expiry: %v", expiryErr)
			continue
		}
		if verdict == billing.CardOK {
			return card, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return nil, fmt.Errorf("customer %d: %w", customerID, billing.ErrNotFound)
}

func scanCard(row rowScanner) (*billing.Card, error) {
	var c billing.Card
	err := row.Scan(
		&c.ID,
		&c.CustomerID,
		&c.Brand,
		&c.LastFour,
		&c.Expiry,
		&c.VaultToken,
		&c.GatewayCustomerID,
		&c.IsDeleted,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
