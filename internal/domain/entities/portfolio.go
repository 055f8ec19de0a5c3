package entities

import (
	"math/big"
	"time"
)

// TokenHolding represents a single token holding in a portfolio
type TokenHolding struct {
	ContractAddress string   `json:"contract_address"`
	Symbol          string   `json:"symbol"`
	Name            string   `json:"name"`
	Decimals        uint8    `json:"decimals"`
	DecimalsKnown   bool     `json:"decimals_known"`
	RawBalance      *big.Int `json:"-"`
	Balance         string   `json:"balance"`                     // Raw balance (base units)
	Formatted       string   `json:"balance_formatted,omitempty"` // Human readable (with decimals)
	USDValue        *string  `json:"usd_value,omitempty"`
	LogoURL         string   `json:"logo_url,omitempty"`
}

// Descriptor returns the token descriptor of the holding
func (h TokenHolding) Descriptor() TokenDescriptor {
	return TokenDescriptor{
		Address:       h.ContractAddress,
		Symbol:        h.Symbol,
		Name:          h.Name,
		Decimals:      h.Decimals,
		DecimalsKnown: h.DecimalsKnown,
		LogoURL:       h.LogoURL,
	}
}

// BalanceSnapshot is the latest known balances of one address. A newer
// snapshot replaces an older one entirely.
type BalanceSnapshot struct {
	Address         string         `json:"address"`
	NativeBalance   *big.Int       `json:"-"`
	NativeRaw       string         `json:"native_balance"`
	NativeFormatted string         `json:"native_balance_formatted"`
	Holdings        []TokenHolding `json:"holdings"`
	FetchedAt       time.Time      `json:"fetched_at"`
}

// Clone returns a copy that shares no balances or holdings with s
func (s *BalanceSnapshot) Clone() *BalanceSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.NativeBalance != nil {
		c.NativeBalance = new(big.Int).Set(s.NativeBalance)
	}
	c.Holdings = CloneHoldings(s.Holdings)
	return &c
}

// CloneHoldings deep-copies holdings. A nil slice stays nil.
func CloneHoldings(holdings []TokenHolding) []TokenHolding {
	if holdings == nil {
		return nil
	}
	out := make([]TokenHolding, len(holdings))
	for i, h := range holdings {
		if h.RawBalance != nil {
			h.RawBalance = new(big.Int).Set(h.RawBalance)
		}
		if h.USDValue != nil {
			v := *h.USDValue
			h.USDValue = &v
		}
		out[i] = h
	}
	return out
}

// Reserve returns a copy of s with spent subtracted, keyed by token Key.
// Balances do not go below zero.
func (s *BalanceSnapshot) Reserve(spent map[string]*big.Int) *BalanceSnapshot {
	c := s.Clone()
	if c == nil || len(spent) == 0 {
		return c
	}
	sub := func(balance, amount *big.Int) *big.Int {
		if balance == nil {
			return new(big.Int)
		}
		left := new(big.Int).Sub(balance, amount)
		if left.Sign() < 0 {
			left.SetInt64(0)
		}
		return left
	}
	if amount, ok := spent[NativeToken("", "").Key()]; ok {
		c.NativeBalance = sub(c.NativeBalance, amount)
	}
	for i, h := range c.Holdings {
		if amount, ok := spent[h.Descriptor().Key()]; ok {
			c.Holdings[i].RawBalance = sub(h.RawBalance, amount)
		}
	}
	return c
}

// Available returns the spendable raw balance of token in the snapshot.
// Unknown tokens have zero available.
func (s *BalanceSnapshot) Available(token TokenDescriptor) *big.Int {
	if s == nil {
		return new(big.Int)
	}
	if token.IsNative() {
		if s.NativeBalance == nil {
			return new(big.Int)
		}
		return new(big.Int).Set(s.NativeBalance)
	}
	for _, h := range s.Holdings {
		if h.Descriptor().Key() == token.Key() && h.RawBalance != nil {
			return new(big.Int).Set(h.RawBalance)
		}
	}
	return new(big.Int)
}

// BalanceUpdate is delivered to balance watchers
type BalanceUpdate struct {
	Snapshot *BalanceSnapshot
	Err      error
}
