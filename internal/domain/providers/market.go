package providers

import (
	"context"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// MarketToken is an entry of the provider's coin list. Platforms maps a
// platform ID to the token's contract address on that platform.
type MarketToken struct {
	ID        string            `json:"id"`
	Symbol    string            `json:"symbol"`
	Name      string            `json:"name"`
	Platforms map[string]string `json:"platforms"`
}

// TokenDetails is provider metadata of a single contract
type TokenDetails struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
	Decimals *uint8 `json:"decimals,omitempty"`
}

// MarketDataProvider defines the market data operations
type MarketDataProvider interface {
	// CoinList returns every listed coin with its platform addresses
	CoinList(ctx context.Context) ([]MarketToken, error)

	// TokenDetails looks up a contract. Unknown contracts return
	// entities.ErrNotFound.
	TokenDetails(ctx context.Context, contract string) (*TokenDetails, error)

	// TokenPrices returns current USD prices keyed by lower-cased address.
	// Tokens without a price are absent from the map.
	TokenPrices(ctx context.Context, tokens []entities.TokenDescriptor) (map[string]entities.TokenPrice, error)

	// PriceHistory returns USD price samples over the last days
	PriceHistory(ctx context.Context, token entities.TokenDescriptor, days int) ([]entities.PricePoint, error)
}
