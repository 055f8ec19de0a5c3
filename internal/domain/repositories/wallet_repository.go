package repositories

import (
	"context"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// WalletRepository defines the interface for the persisted wallet
type WalletRepository interface {
	// Get retrieves the wallet of a namespace, nil when none exists
	Get(ctx context.Context, namespace string) (*entities.Wallet, error)

	// Create stores a wallet. It fails with ErrWalletExists when the
	// namespace already has one.
	Create(ctx context.Context, namespace string, wallet *entities.Wallet) error

	// Delete removes the wallet of a namespace
	Delete(ctx context.Context, namespace string) error
}
