package zeroex

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
)

const (
	weth = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.SwapConfig{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
	}, zap.NewNop())
}

func testRequest() providers.SwapRequest {
	return providers.SwapRequest{
		ChainID:     1,
		SellToken:   weth,
		BuyToken:    usdc,
		SellAmount:  big.NewInt(1_000_000_000_000_000_000),
		SlippageBps: 100,
	}
}

func TestClient_Price(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pricePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("0x-api-key") != "test-key" || r.Header.Get("0x-version") != "v2" {
			t.Errorf("missing 0x headers")
		}
		q := r.URL.Query()
		if q.Get("chainId") != "1" || q.Get("sellAmount") != "1000000000000000000" || q.Get("slippageBps") != "100" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Has("taker") {
			t.Errorf("price requests carry no taker")
		}
		_, _ = w.Write([]byte(`{
			"liquidityAvailable": true,
			"buyAmount": "3000000000",
			"sellAmount": "1000000000000000000",
			"minBuyAmount": "2970000000",
			"allowanceTarget": "0x0000000000001fF3684f28c67538d4D072C22734",
			"issues": {"allowance": {"actual": "0", "spender": "0x0000000000001fF3684f28c67538d4D072C22734"}, "balance": null}
		}`))
	})

	q, err := client.Price(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Price() error: %v", err)
	}
	if !q.LiquidityAvailable || q.BuyAmount.String() != "3000000000" || q.MinBuyAmount.String() != "2970000000" {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.Issues.Allowance == nil || q.Issues.Allowance.Actual.Sign() != 0 {
		t.Errorf("expected allowance issue, got %+v", q.Issues)
	}
	if q.Transaction != nil {
		t.Errorf("price responses carry no transaction")
	}
	if len(q.Raw) == 0 {
		t.Errorf("raw payload should be kept")
	}
}

func TestClient_Quote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != quotePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("taker") == "" {
			t.Errorf("quote requests need a taker")
		}
		_, _ = w.Write([]byte(`{
			"liquidityAvailable": true,
			"buyAmount": "3000000000",
			"sellAmount": "1000000000000000000",
			"issues": {"allowance": null, "balance": null},
			"transaction": {
				"to": "0x0000000000001fF3684f28c67538d4D072C22734",
				"data": "0xdeadbeef",
				"gas": "210000",
				"gasPrice": "20000000000",
				"value": "0"
			}
		}`))
	})

	req := testRequest()
	req.Taker = "0x00000000000000000000000000000000000000aa"

	q, err := client.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("Quote() error: %v", err)
	}
	if q.Transaction == nil {
		t.Fatal("expected transaction")
	}
	if q.Transaction.Gas != 210000 || q.Transaction.GasPrice.Int64() != 20_000_000_000 {
		t.Errorf("unexpected transaction %+v", q.Transaction)
	}
	if len(q.Transaction.Data) != 4 {
		t.Errorf("expected 4 bytes of calldata, got %d", len(q.Transaction.Data))
	}
}

func TestClient_QuoteRequiresTaker(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := client.Quote(context.Background(), testRequest())
	if !errors.Is(err, entities.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestClient_NoLiquidity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"liquidityAvailable": false, "zid": "0x1"}`))
	})

	q, err := client.Price(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Price() error: %v", err)
	}
	if q.LiquidityAvailable {
		t.Error("expected no liquidity")
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"bad request", http.StatusBadRequest, `{"name":"INPUT_INVALID","message":"sellAmount too small"}`, entities.ErrInvalidInput},
		{"rate limited", http.StatusTooManyRequests, `{}`, entities.ErrProviderUnavailable},
		{"server error", http.StatusBadGateway, `upstream`, entities.ErrProviderUnavailable},
		{"bad key", http.StatusUnauthorized, `{}`, entities.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Price(context.Background(), testRequest())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Price() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	client := NewClient(config.SwapConfig{BaseURL: "http://127.0.0.1:1", RequestTimeout: time.Second}, zap.NewNop())

	_, err := client.Price(context.Background(), testRequest())
	if !errors.Is(err, entities.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}
