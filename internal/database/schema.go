package database

import (
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_id VARCHAR(64) PRIMARY KEY,
		account_name VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT 'ACTIVE',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_balances (
		account_id VARCHAR(64) NOT NULL,
		currency CHAR(3) NOT NULL,
		amount NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (account_id, currency)
	)`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		transaction_ref VARCHAR(128) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		currency CHAR(3) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		gross_amount NUMERIC(18,2) NOT NULL,
		service_fee NUMERIC(18,2) NOT NULL DEFAULT 0,
		provider_charges NUMERIC(18,2) NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		external_transaction_id VARCHAR(128),
		method VARCHAR(32) NOT NULL DEFAULT '',
		destination VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_transactions_account
		ON payment_transactions (account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS commission_totals (
		currency CHAR(3) PRIMARY KEY,
		amount NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (amount >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id BIGSERIAL PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		action TEXT NOT NULL,
		transaction_ref VARCHAR(128) NOT NULL DEFAULT '',
		ip_address VARCHAR(64) NOT NULL DEFAULT 'Unknown',
		user_agent VARCHAR(512) NOT NULL DEFAULT 'Unknown',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_account
		ON audit_entries (account_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id BIGSERIAL PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		transaction_ref VARCHAR(128) NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		payment_method VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS earnings (
		id BIGSERIAL PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		currency CHAR(3) NOT NULL,
		transaction_ref VARCHAR(128) NOT NULL,
		service_name VARCHAR(64) NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_earnings_ref ON earnings (transaction_ref)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
