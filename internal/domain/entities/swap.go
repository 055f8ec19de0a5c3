package entities

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SwapIntent is what the user wants to trade: SellAmount of SellToken for
// BuyToken. Amounts are human decimals in the sell token's precision.
type SwapIntent struct {
	SellToken  TokenDescriptor `json:"sell_token"`
	BuyToken   TokenDescriptor `json:"buy_token"`
	SellAmount string          `json:"sell_amount"`
}

// Validate checks the intent locally and returns the raw sell amount
func (i SwapIntent) Validate() (*big.Int, error) {
	if i.SellToken.Address == "" || i.BuyToken.Address == "" {
		return nil, Wrapf(ErrInvalidInput, "both tokens are required")
	}
	if i.SellToken.Key() == i.BuyToken.Key() {
		return nil, Wrapf(ErrInvalidInput, "cannot swap %s for itself", i.SellToken.Symbol)
	}
	if _, err := i.BuyToken.RequireDecimals(); err != nil {
		return nil, err
	}
	decimals, err := i.SellToken.RequireDecimals()
	if err != nil {
		return nil, err
	}
	raw, err := ParseUnits(i.SellAmount, decimals)
	if err != nil {
		return nil, err
	}
	if raw.Sign() <= 0 {
		return nil, Wrapf(ErrInvalidAmount, "sell amount must be greater than zero")
	}
	return raw, nil
}

// Key fingerprints the intent. Two intents with the same key may share a
// quote; any change of token or amount changes the key.
func (i SwapIntent) Key() (string, error) {
	raw, err := i.Validate()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%s|%s", i.SellToken.Key(), i.BuyToken.Key(), raw.String()), nil
}

// Flip swaps the pay and receive sides, keeping the amount
func (i SwapIntent) Flip() SwapIntent {
	return SwapIntent{
		SellToken:  i.BuyToken,
		BuyToken:   i.SellToken,
		SellAmount: i.SellAmount,
	}
}

// QuoteKind distinguishes display-only prices from executable quotes
type QuoteKind string

const (
	QuoteIndicative QuoteKind = "indicative"
	QuoteFirm       QuoteKind = "firm"
)

// QuoteTransaction is the transaction payload of a firm quote
type QuoteTransaction struct {
	To       string        `json:"to"`
	Data     hexutil.Bytes `json:"data"`
	Value    *big.Int      `json:"value"`
	Gas      uint64        `json:"gas"`
	GasPrice *big.Int      `json:"gas_price"`
}

// AllowanceIssue reports that the spender cannot move the sell amount yet
type AllowanceIssue struct {
	Actual  *big.Int `json:"actual"`
	Spender string   `json:"spender"`
}

// BalanceIssue reports that the taker does not hold the sell amount
type BalanceIssue struct {
	Token    string   `json:"token"`
	Actual   *big.Int `json:"actual"`
	Expected *big.Int `json:"expected"`
}

// QuoteIssues are problems the aggregator found with the taker's state
type QuoteIssues struct {
	Allowance *AllowanceIssue `json:"allowance,omitempty"`
	Balance   *BalanceIssue   `json:"balance,omitempty"`
}

// Quote is an aggregator price for an intent. Only firm quotes can be
// executed, and only for the intent they were issued for.
type Quote struct {
	ID                 string            `json:"id"`
	Kind               QuoteKind         `json:"kind"`
	IntentKey          string            `json:"-"`
	SellToken          TokenDescriptor   `json:"sell_token"`
	BuyToken           TokenDescriptor   `json:"buy_token"`
	SellAmount         *big.Int          `json:"sell_amount"`
	BuyAmount          *big.Int          `json:"buy_amount"`
	MinBuyAmount       *big.Int          `json:"min_buy_amount,omitempty"`
	BuyAmountFormatted string            `json:"buy_amount_formatted"`
	PriceImpact        *string           `json:"price_impact,omitempty"`
	Taker              string            `json:"taker,omitempty"`
	AllowanceTarget    string            `json:"allowance_target,omitempty"`
	Issues             QuoteIssues       `json:"issues"`
	Transaction        *QuoteTransaction `json:"transaction,omitempty"`
	Raw                json.RawMessage   `json:"-"`
	FetchedAt          time.Time         `json:"fetched_at"`
	ExpiresAt          time.Time         `json:"expires_at,omitempty"`
}

// Expired reports whether a firm quote is past its local expiry
func (q *Quote) Expired(now time.Time) bool {
	return q.Kind == QuoteFirm && !now.Before(q.ExpiresAt)
}
