package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables the engine reads and the append-only tables it
// owns. Loans, borrowers, payment methods and preferences are maintained by
// the intake and admin flows; they are created here so a fresh database can
// run the engine end to end.
const schema = `
CREATE SCHEMA IF NOT EXISTS servicing;

CREATE TABLE IF NOT EXISTS servicing.borrowers (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    street TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    zip_code TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT 'US'
);

CREATE TABLE IF NOT EXISTS servicing.loans (
    id BIGSERIAL PRIMARY KEY,
    tracking_number TEXT NOT NULL,
    user_id BIGINT NOT NULL REFERENCES servicing.borrowers(id),
    approved_amount BIGINT,
    interest_rate DOUBLE PRECISION NOT NULL DEFAULT 5.5,
    term_years INTEGER NOT NULL DEFAULT 5,
    disbursed_at TIMESTAMPTZ,
    auto_pay_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS servicing.payment_methods (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES servicing.borrowers(id),
    type VARCHAR(20) NOT NULL,
    card_brand TEXT NOT NULL DEFAULT '',
    last4 VARCHAR(4) NOT NULL DEFAULT '',
    expiry_month VARCHAR(2) NOT NULL DEFAULT '',
    expiry_year VARCHAR(4) NOT NULL DEFAULT '',
    name_on_card TEXT NOT NULL DEFAULT '',
    card_token TEXT NOT NULL DEFAULT '',
    crypto_currency VARCHAR(10) NOT NULL DEFAULT '',
    wallet_address TEXT NOT NULL DEFAULT '',
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS payment_methods_one_default
    ON servicing.payment_methods (user_id) WHERE is_default;

CREATE TABLE IF NOT EXISTS servicing.notification_preferences (
    user_id BIGINT PRIMARY KEY REFERENCES servicing.borrowers(id),
    payment_reminders BOOLEAN NOT NULL DEFAULT TRUE,
    payment_receipts BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS servicing.payments (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    loan_id BIGINT NOT NULL REFERENCES servicing.loans(id),
    amount BIGINT NOT NULL,
    rail VARCHAR(20) NOT NULL,
    status VARCHAR(20) NOT NULL,
    external_reference TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS payments_loan_id ON servicing.payments (loan_id);

CREATE TABLE IF NOT EXISTS servicing.payment_reminders (
    id BIGSERIAL PRIMARY KEY,
    loan_id BIGINT NOT NULL REFERENCES servicing.loans(id),
    day DATE NOT NULL,
    reminder_type VARCHAR(20) NOT NULL,
    days_until_due INTEGER NOT NULL,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (loan_id, day)
);

CREATE TABLE IF NOT EXISTS servicing.autopay_failures (
    id BIGSERIAL PRIMARY KEY,
    loan_id BIGINT NOT NULL REFERENCES servicing.loans(id),
    day DATE NOT NULL,
    reason TEXT NOT NULL,
    days_until_due INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (loan_id, day)
);

CREATE TABLE IF NOT EXISTS servicing.autopay_attempts (
    loan_id BIGINT NOT NULL REFERENCES servicing.loans(id),
    day DATE NOT NULL,
    attempted_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (loan_id, day)
);
`

// Migrate applies the schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
