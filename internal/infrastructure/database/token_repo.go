package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/repositories"
)

// Ensure TokenUsageRepo implements TokenUsageRepository
var _ repositories.TokenUsageRepository = (*TokenUsageRepo)(nil)

// TokenUsageRepo implements TokenUsageRepository using PostgreSQL
type TokenUsageRepo struct {
	db *sqlx.DB
}

// NewTokenUsageRepo creates a new recent token repository
func NewTokenUsageRepo(db *sqlx.DB) *TokenUsageRepo {
	return &TokenUsageRepo{db: db}
}

// List retrieves the recent tokens of a namespace in stored order
func (r *TokenUsageRepo) List(ctx context.Context, namespace string) ([]entities.TokenDescriptor, error) {
	tokens := []entities.TokenDescriptor{}
	query := `
		SELECT address, symbol, name, decimals, decimals_known, logo_url
		FROM token_usage
		WHERE namespace = $1
		ORDER BY position
	`

	if err := r.db.SelectContext(ctx, &tokens, query, namespace); err != nil {
		return nil, fmt.Errorf("failed to list recent tokens: %w", err)
	}

	return tokens, nil
}

// Replace stores tokens as the recent list of a namespace
func (r *TokenUsageRepo) Replace(ctx context.Context, namespace string, tokens []entities.TokenDescriptor) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM token_usage WHERE namespace = $1`, namespace); err != nil {
		return fmt.Errorf("failed to clear recent tokens: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO token_usage (namespace, position, address, symbol, name, decimals, decimals_known, logo_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, t := range tokens {
		_, err := stmt.ExecContext(ctx,
			namespace,
			i,
			t.Address,
			t.Symbol,
			t.Name,
			int16(t.Decimals),
			t.DecimalsKnown,
			t.LogoURL,
		)
		if err != nil {
			return fmt.Errorf("failed to insert recent token %s: %w", t.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
