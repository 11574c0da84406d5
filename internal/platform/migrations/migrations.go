// Package migrations applies the PostgreSQL schema for the raffle service.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements run in order. Each statement is idempotent so Apply is safe to
// call on every startup.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS raffle_rounds (
		id TEXT PRIMARY KEY,
		number BIGINT NOT NULL,
		state TEXT NOT NULL,
		entrance_fee DOUBLE PRECISION NOT NULL DEFAULT 0,
		pool DOUBLE PRECISION NOT NULL DEFAULT 0,
		entries INTEGER NOT NULL DEFAULT 0,
		winner TEXT NOT NULL DEFAULT '',
		payout DOUBLE PRECISION NOT NULL DEFAULT 0,
		request_id TEXT NOT NULL DEFAULT '',
		words JSONB,
		opened_at TIMESTAMPTZ,
		draw_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS raffle_rounds_number_idx ON raffle_rounds (number)`,

	`CREATE TABLE IF NOT EXISTS raffle_entries (
		id TEXT PRIMARY KEY,
		round_id TEXT NOT NULL,
		address TEXT NOT NULL,
		fee_paid DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS raffle_entries_round_idx ON raffle_entries (round_id)`,

	`CREATE TABLE IF NOT EXISTS randomness_requests (
		id TEXT PRIMARY KEY,
		round_id TEXT NOT NULL,
		key_hash TEXT NOT NULL DEFAULT '',
		subscription_id TEXT NOT NULL DEFAULT '',
		confirmations INTEGER NOT NULL DEFAULT 0,
		gas_limit INTEGER NOT NULL DEFAULT 0,
		words INTEGER NOT NULL DEFAULT 1,
		result JSONB,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		fulfilled_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS randomness_requests_status_idx ON randomness_requests (status)`,

	`CREATE TABLE IF NOT EXISTS wallet_accounts (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		balance DOUBLE PRECISION NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS wallet_accounts_address_idx ON wallet_accounts (LOWER(address))`,

	`CREATE TABLE IF NOT EXISTS wallet_transactions (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount DOUBLE PRECISION NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS wallet_transactions_address_idx ON wallet_transactions (LOWER(address))`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0,
		detail JSONB
	)`,
}

// Apply executes all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
