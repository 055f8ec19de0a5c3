package database

import (
	"context"
	"fmt"
)

// schema creates the tables the wallet persists to. Every statement is
// idempotent so Migrate can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS wallets (
		namespace       TEXT PRIMARY KEY,
		address         TEXT NOT NULL,
		ciphertext      BYTEA NOT NULL,
		salt            BYTEA NOT NULL,
		nonce           BYTEA NOT NULL,
		kdf_memory      BIGINT NOT NULL,
		kdf_iterations  BIGINT NOT NULL,
		kdf_parallelism SMALLINT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS token_usage (
		namespace      TEXT NOT NULL,
		position       INTEGER NOT NULL,
		address        TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		name           TEXT NOT NULL,
		decimals       SMALLINT NOT NULL,
		decimals_known BOOLEAN NOT NULL,
		logo_url       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, position)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		hash            TEXT PRIMARY KEY,
		namespace       TEXT NOT NULL,
		kind            TEXT NOT NULL,
		from_address    TEXT NOT NULL,
		to_address      TEXT NOT NULL,
		direction       TEXT NOT NULL,
		token_address   TEXT NOT NULL,
		token_symbol    TEXT NOT NULL,
		amount          TEXT NOT NULL,
		raw_amount      NUMERIC(78, 0) NOT NULL,
		buy_token       TEXT,
		received_amount TEXT,
		status          TEXT NOT NULL,
		block_number    BIGINT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions (namespace, LOWER(from_address), created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_to ON transactions (namespace, LOWER(to_address), created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions (namespace) WHERE status = 'pending'`,
}

// Migrate creates missing tables and indexes
func (p *PostgresDB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	p.logger.Info("Database schema up to date")
	return nil
}
