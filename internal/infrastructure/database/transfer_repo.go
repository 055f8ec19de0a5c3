package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/repositories"
)

// Ensure TransactionRepo implements TransactionRepository
var _ repositories.TransactionRepository = (*TransactionRepo)(nil)

const transactionColumns = `hash, namespace, kind, from_address, to_address, direction,
	token_address, token_symbol, amount, raw_amount::TEXT AS raw_amount, buy_token,
	received_amount, status, block_number, created_at, updated_at`

// TransactionRepo implements TransactionRepository using PostgreSQL
type TransactionRepo struct {
	db *sqlx.DB
}

// NewTransactionRepo creates a new transaction repository
func NewTransactionRepo(db *sqlx.DB) *TransactionRepo {
	return &TransactionRepo{db: db}
}

// Create stores a new record
func (r *TransactionRepo) Create(ctx context.Context, record *entities.TransactionRecord) error {
	query := `
		INSERT INTO transactions (
			hash, namespace, kind, from_address, to_address, direction,
			token_address, token_symbol, amount, raw_amount, buy_token,
			received_amount, status, block_number, created_at, updated_at
		) VALUES (
			:hash, :namespace, :kind, :from_address, :to_address, :direction,
			:token_address, :token_symbol, :amount, :raw_amount, :buy_token,
			:received_amount, :status, :block_number, :created_at, :updated_at
		)
		ON CONFLICT (hash) DO NOTHING
	`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByHash retrieves a record by hash
func (r *TransactionRepo) GetByHash(ctx context.Context, hash string) (*entities.TransactionRecord, error) {
	var record entities.TransactionRecord
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE LOWER(hash) = LOWER($1)`

	if err := r.db.GetContext(ctx, &record, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &record, nil
}

// ListByAddress retrieves records sent from or to address, newest first
func (r *TransactionRepo) ListByAddress(ctx context.Context, namespace, address string, limit, offset int) ([]entities.TransactionRecord, error) {
	records := []entities.TransactionRecord{}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE namespace = $1 AND (LOWER(from_address) = LOWER($2) OR LOWER(to_address) = LOWER($2))
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	if err := r.db.SelectContext(ctx, &records, query, namespace, address, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return records, nil
}

// ListPending retrieves records still awaiting confirmation, oldest first
func (r *TransactionRepo) ListPending(ctx context.Context, namespace string) ([]entities.TransactionRecord, error) {
	records := []entities.TransactionRecord{}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE namespace = $1 AND status = $2
		ORDER BY created_at
	`

	if err := r.db.SelectContext(ctx, &records, query, namespace, entities.TxPending); err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	return records, nil
}

// UpdateStatus moves a pending record to a terminal status
func (r *TransactionRepo) UpdateStatus(ctx context.Context, hash string, update entities.StatusUpdate) (bool, error) {
	query := `
		UPDATE transactions SET
			status = $2,
			block_number = $3,
			received_amount = COALESCE($4, received_amount),
			updated_at = NOW()
		WHERE LOWER(hash) = LOWER($1) AND status = 'pending'
	`

	var block *int64
	if update.BlockNumber > 0 {
		block = &update.BlockNumber
	}

	result, err := r.db.ExecContext(ctx, query, hash, update.Status, block, update.ReceivedAmount)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected == 1, nil
}
