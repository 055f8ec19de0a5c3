package entities

import (
	"strings"
)

// NativeTokenAddress is the sentinel address used for the chain's native
// asset, matching the swap aggregator's convention.
const NativeTokenAddress = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// NativeDecimals is the precision of the native asset
const NativeDecimals uint8 = 18

// TokenDescriptor identifies a token the wallet can hold, send or swap
type TokenDescriptor struct {
	Address       string `json:"address" db:"address"`
	Symbol        string `json:"symbol" db:"symbol"`
	Name          string `json:"name" db:"name"`
	Decimals      uint8  `json:"decimals" db:"decimals"`
	DecimalsKnown bool   `json:"decimals_known" db:"decimals_known"`
	LogoURL       string `json:"logo_url,omitempty" db:"logo_url"`
}

// NativeToken returns the descriptor of the native asset
func NativeToken(symbol, name string) TokenDescriptor {
	return TokenDescriptor{
		Address:       NativeTokenAddress,
		Symbol:        symbol,
		Name:          name,
		Decimals:      NativeDecimals,
		DecimalsKnown: true,
	}
}

// IsNativeAddress reports whether address is the native asset sentinel
func IsNativeAddress(address string) bool {
	return strings.EqualFold(address, NativeTokenAddress)
}

// IsNative reports whether the descriptor is the native asset
func (t TokenDescriptor) IsNative() bool {
	return IsNativeAddress(t.Address)
}

// Key returns the identity used for deduplication
func (t TokenDescriptor) Key() string {
	return strings.ToLower(t.Address)
}

// RequireDecimals returns ErrUnknownDecimals when the token's precision has
// not been resolved.
func (t TokenDescriptor) RequireDecimals() (uint8, error) {
	if !t.DecimalsKnown {
		return 0, Wrapf(ErrUnknownDecimals, "token %s has no known decimals", t.Address)
	}
	return t.Decimals, nil
}
