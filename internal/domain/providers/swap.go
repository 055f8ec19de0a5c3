package providers

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// SwapRequest identifies a price or quote request
type SwapRequest struct {
	ChainID     int64
	SellToken   string
	BuyToken    string
	SellAmount  *big.Int
	Taker       string
	SlippageBps int
}

// AggregatorQuote is the aggregator's answer to a SwapRequest. Transaction
// is only set for firm quotes.
type AggregatorQuote struct {
	LiquidityAvailable bool
	SellAmount         *big.Int
	BuyAmount          *big.Int
	MinBuyAmount       *big.Int
	PriceImpact        *string
	AllowanceTarget    string
	Issues             entities.QuoteIssues
	Transaction        *entities.QuoteTransaction
	Raw                json.RawMessage
}

// SwapAggregator defines the liquidity aggregator operations
type SwapAggregator interface {
	// Price returns an indicative price. It is never executable.
	Price(ctx context.Context, req SwapRequest) (*AggregatorQuote, error)

	// Quote returns a firm, executable quote for req.Taker
	Quote(ctx context.Context, req SwapRequest) (*AggregatorQuote, error)
}
