package repositories

import (
	"context"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// TokenUsageRepository defines the interface for the recently used token list
type TokenUsageRepository interface {
	// List retrieves the recently used tokens of a namespace, most recent first
	List(ctx context.Context, namespace string) ([]entities.TokenDescriptor, error)

	// Replace stores the list, replacing the previous one
	Replace(ctx context.Context, namespace string, tokens []entities.TokenDescriptor) error
}
