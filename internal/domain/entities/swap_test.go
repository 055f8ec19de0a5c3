package entities

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var (
	testUSDC = TokenDescriptor{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, DecimalsKnown: true}
	testETH  = NativeToken("ETH", "Ether")
)

func TestSwapIntentKey(t *testing.T) {
	intent := SwapIntent{SellToken: testETH, BuyToken: testUSDC, SellAmount: "1"}

	key, err := intent.Key()
	if err != nil {
		t.Fatalf("Key() error: %v", err)
	}

	t.Run("same intent same key", func(t *testing.T) {
		again, _ := SwapIntent{SellToken: testETH, BuyToken: testUSDC, SellAmount: "1.0"}.Key()
		if again != key {
			t.Errorf("equivalent amounts should share a key: %s vs %s", key, again)
		}
	})

	t.Run("amount change changes key", func(t *testing.T) {
		changed := intent
		changed.SellAmount = "2"
		other, _ := changed.Key()
		if other == key {
			t.Error("changing the sell amount should change the key")
		}
	})

	t.Run("flip changes key", func(t *testing.T) {
		flipped, err := intent.Flip().Key()
		if err != nil {
			t.Fatalf("Key() error: %v", err)
		}
		if flipped == key {
			t.Error("flipping should change the key")
		}
	})
}

func TestSwapIntentValidate(t *testing.T) {
	unknown := TokenDescriptor{Address: "0x1111111111111111111111111111111111111111", Symbol: "UNK"}

	tests := []struct {
		name    string
		intent  SwapIntent
		wantErr error
	}{
		{"valid", SwapIntent{SellToken: testUSDC, BuyToken: testETH, SellAmount: "10.5"}, nil},
		{"same token", SwapIntent{SellToken: testUSDC, BuyToken: testUSDC, SellAmount: "1"}, ErrInvalidInput},
		{"zero amount", SwapIntent{SellToken: testUSDC, BuyToken: testETH, SellAmount: "0"}, ErrInvalidAmount},
		{"unknown sell decimals", SwapIntent{SellToken: unknown, BuyToken: testETH, SellAmount: "1"}, ErrUnknownDecimals},
		{"unknown buy decimals", SwapIntent{SellToken: testETH, BuyToken: unknown, SellAmount: "1"}, ErrUnknownDecimals},
		{"missing token", SwapIntent{SellToken: testETH, SellAmount: "1"}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.intent.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuoteExpired(t *testing.T) {
	now := time.Now()

	firm := &Quote{Kind: QuoteFirm, ExpiresAt: now.Add(time.Second)}
	if firm.Expired(now) {
		t.Error("firm quote should not be expired before its expiry")
	}
	if !firm.Expired(now.Add(2 * time.Second)) {
		t.Error("firm quote should be expired after its expiry")
	}

	indicative := &Quote{Kind: QuoteIndicative}
	if indicative.Expired(now) {
		t.Error("indicative quotes carry no expiry")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Wrapf(ErrInvalidAddress, "bad"), "invalid_address"},
		{fmt.Errorf("outer: %w", ErrInsufficientBalance), "insufficient_balance"},
		{Unavailable("fetch balance", errors.New("dial tcp: refused")), "provider_unavailable"},
		{errors.New("plain"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.want {
				t.Errorf("ErrorCode() = %s, want %s", got, tt.want)
			}
		})
	}

	if !errors.Is(Wrapf(ErrQuoteMismatch, "x"), ErrInvalidInput) {
		t.Error("quote mismatch should be an invalid input")
	}
}

func TestDirectionOf(t *testing.T) {
	owner := "0xAbC0000000000000000000000000000000000001"
	other := "0x0000000000000000000000000000000000000002"

	if got := DirectionOf(owner, owner, other); got != DirectionOut {
		t.Errorf("DirectionOf() = %s, want out", got)
	}
	if got := DirectionOf(owner, other, owner); got != DirectionIn {
		t.Errorf("DirectionOf() = %s, want in", got)
	}
	if got := DirectionOf(owner, owner, "0xabc0000000000000000000000000000000000001"); got != DirectionSelf {
		t.Errorf("DirectionOf() = %s, want self", got)
	}
}
