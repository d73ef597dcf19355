package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS subscription_payments (
	id BIGSERIAL PRIMARY KEY,
	customer_id BIGINT NOT NULL,
	product_id BIGINT NOT NULL,
	product_name VARCHAR(255) NOT NULL DEFAULT '',
	product_model VARCHAR(100) NOT NULL DEFAULT '',
	original_order_line_id BIGINT NOT NULL,
	amount NUMERIC(12, 2) NOT NULL,
	currency CHAR(3) NOT NULL DEFAULT 'USD',
	billing_period VARCHAR(50),
	billing_frequency INTEGER,
	total_billing_cycles INTEGER,
	next_payment_date DATE NOT NULL,
	card_id BIGINT NOT NULL,
	skip_next_payment BOOLEAN NOT NULL DEFAULT FALSE,
	status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
	skipped BOOLEAN NOT NULL DEFAULT FALSE,
	transaction_id VARCHAR(255),
	error_message TEXT,
	charged_amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
	processed_at TIMESTAMP WITH TIME ZONE,
	attributes JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_subscription_payments_due ON subscription_payments(status, next_payment_date);
CREATE INDEX IF NOT EXISTS idx_subscription_payments_lineage ON subscription_payments(original_order_line_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_subscription_payments_customer ON subscription_payments(customer_id);

CREATE TABLE IF NOT EXISTS saved_cards (
	id BIGSERIAL PRIMARY KEY,
	customer_id BIGINT NOT NULL,
	brand VARCHAR(50) NOT NULL DEFAULT '',
	last_four CHAR(4) NOT NULL DEFAULT '',
	expiry CHAR(4) NOT NULL,
	vault_token VARCHAR(255) NOT NULL,
	gateway_customer_id VARCHAR(255) NOT NULL DEFAULT '',
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_saved_cards_customer ON saved_cards(customer_id) WHERE NOT is_deleted;
`

// Migrate creates the billing tables and indexes if they don't exist
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create billing schema: %w", err)
	}
	return nil
}
