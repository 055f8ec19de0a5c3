package entities

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// maxIntegerDigits is the digit count of the largest uint256
const maxIntegerDigits = 78

// maxUnits is the largest amount a transaction can carry
var maxUnits = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseUnits converts a human decimal amount into base units using the
// token's decimals. Amounts with more fractional digits than the token
// supports are rejected rather than truncated. Exponent notation is not
// accepted and results must fit in uint256.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, Wrapf(ErrInvalidAmount, "amount is empty")
	}
	if strings.ContainsAny(amount, "eE") {
		return nil, Wrapf(ErrInvalidAmount, "%q uses exponent notation", amount)
	}
	integer, _, _ := strings.Cut(strings.TrimLeft(amount, "+-"), ".")
	if len(strings.TrimLeft(integer, "0")) > maxIntegerDigits {
		return nil, Wrapf(ErrInvalidAmount, "amount is too large")
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, Wrapf(ErrInvalidAmount, "%q is not a number", amount)
	}
	if d.IsNegative() {
		return nil, Wrapf(ErrInvalidAmount, "%q is negative", amount)
	}

	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, Wrapf(ErrInvalidAmount, "%q has more than %d decimal places", amount, decimals)
	}
	raw := scaled.BigInt()
	if raw.Cmp(maxUnits) > 0 {
		return nil, Wrapf(ErrInvalidAmount, "%q is too large", amount)
	}
	return raw, nil
}

// FormatUnits converts base units into a human decimal string with trailing
// zeros trimmed.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}

// FormatUnitsFixed formats base units rounded to places fractional digits
// for display.
func FormatUnitsFixed(raw *big.Int, decimals uint8, places int32) string {
	if raw == nil {
		raw = new(big.Int)
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).StringFixed(places)
}

// UnitsToDecimal returns base units as a decimal value, used for USD math
func UnitsToDecimal(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
