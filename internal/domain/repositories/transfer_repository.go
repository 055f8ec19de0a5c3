package repositories

import (
	"context"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// TransactionRepository defines the interface for submitted transaction records
type TransactionRepository interface {
	// Create stores a new record
	Create(ctx context.Context, record *entities.TransactionRecord) error

	// GetByHash retrieves a record by hash, nil when absent
	GetByHash(ctx context.Context, hash string) (*entities.TransactionRecord, error)

	// ListByAddress retrieves records sent from or to address, newest first
	ListByAddress(ctx context.Context, namespace, address string, limit, offset int) ([]entities.TransactionRecord, error)

	// ListPending retrieves records still awaiting confirmation
	ListPending(ctx context.Context, namespace string) ([]entities.TransactionRecord, error)

	// UpdateStatus moves a pending record to a terminal status. It reports
	// false when the record was not pending.
	UpdateStatus(ctx context.Context, hash string, update entities.StatusUpdate) (bool, error)
}
