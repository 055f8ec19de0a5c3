package entities

import (
	"errors"
	"fmt"
)

// Error is a wallet error kind. Kinds may refine a broader parent kind, so
// errors.Is matches both the specific kind and its parent.
type Error struct {
	code   string
	msg    string
	parent error
}

func newError(code, msg string, parent error) *Error {
	return &Error{code: code, msg: msg, parent: parent}
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.parent }

// Code returns the stable machine-readable code of the kind
func (e *Error) Code() string { return e.code }

var (
	ErrInvalidInput    = newError("invalid_input", "invalid input", nil)
	ErrInvalidAddress  = newError("invalid_address", "invalid address", ErrInvalidInput)
	ErrInvalidAmount   = newError("invalid_amount", "invalid amount", ErrInvalidInput)
	ErrUnknownDecimals = newError("unknown_decimals", "token decimals unknown", ErrInvalidInput)
	ErrQuoteMismatch   = newError("quote_mismatch", "quote does not match the current swap", ErrInvalidInput)

	ErrNoWallet            = newError("no_wallet", "no wallet", nil)
	ErrWalletExists        = newError("wallet_exists", "wallet already exists", nil)
	ErrVaultLocked         = newError("vault_locked", "vault is locked", nil)
	ErrInvalidPassword     = newError("invalid_password", "invalid password", nil)
	ErrInvalidBackupFormat = newError("invalid_backup_format", "invalid backup format", nil)

	ErrProviderUnavailable   = newError("provider_unavailable", "provider unavailable", nil)
	ErrInsufficientBalance   = newError("insufficient_balance", "insufficient balance", nil)
	ErrInsufficientAllowance = newError("insufficient_allowance", "insufficient allowance", nil)
	ErrQuoteExpired          = newError("quote_expired", "quote expired", nil)
	ErrNoLiquidity           = newError("no_liquidity", "no liquidity for pair", nil)
	ErrBroadcastFailed       = newError("broadcast_failed", "broadcast failed", nil)
	ErrNotFound              = newError("not_found", "not found", nil)
)

// Wrapf annotates an error kind with detail
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Unavailable marks cause as a provider failure during op
func Unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, cause)
}

// ErrorCode returns the code of the most specific kind in err's chain, or
// "internal" when err carries no kind.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return "internal"
}
