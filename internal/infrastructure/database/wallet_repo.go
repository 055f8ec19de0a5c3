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

// Ensure WalletRepo implements WalletRepository
var _ repositories.WalletRepository = (*WalletRepo)(nil)

// WalletRepo implements WalletRepository using PostgreSQL
type WalletRepo struct {
	db *sqlx.DB
}

// NewWalletRepo creates a new wallet repository
func NewWalletRepo(db *sqlx.DB) *WalletRepo {
	return &WalletRepo{db: db}
}

// Get retrieves the wallet of a namespace
func (r *WalletRepo) Get(ctx context.Context, namespace string) (*entities.Wallet, error) {
	var wallet entities.Wallet
	query := `
		SELECT address, ciphertext, salt, nonce, kdf_memory, kdf_iterations, kdf_parallelism, created_at
		FROM wallets
		WHERE namespace = $1
	`

	if err := r.db.GetContext(ctx, &wallet, query, namespace); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &wallet, nil
}

// Create stores the wallet of a namespace
func (r *WalletRepo) Create(ctx context.Context, namespace string, wallet *entities.Wallet) error {
	query := `
		INSERT INTO wallets (namespace, address, ciphertext, salt, nonce, kdf_memory, kdf_iterations, kdf_parallelism, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		namespace,
		wallet.Address,
		wallet.Ciphertext,
		wallet.Salt,
		wallet.Nonce,
		int64(wallet.KDFMemory),
		int64(wallet.KDFIterations),
		int16(wallet.KDFParallelism),
		wallet.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return entities.ErrWalletExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// Delete removes the wallet of a namespace
func (r *WalletRepo) Delete(ctx context.Context, namespace string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM wallets WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	return nil
}
