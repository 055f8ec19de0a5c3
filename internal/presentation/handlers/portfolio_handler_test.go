package handlers

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/bimakw/chain-wallet/internal/application/services"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/testutil"
)

func TestPortfolioHandler_GetBalance(t *testing.T) {
	t.Run("returns balance", func(t *testing.T) {
		f := setupAPI(t)
		f.chain.SetNativeBalance(testutil.AliceAddress, testutil.Ether(2))

		rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+testutil.AliceAddress+"/balance", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		body := decodeBody[BalanceResponse](t, rec)
		if body.Balance != testutil.Ether(2).String() || body.Formatted != "2" {
			t.Errorf("unexpected balance %+v", body)
		}
	})

	t.Run("returns error for invalid address", func(t *testing.T) {
		f := setupAPI(t)
		expectError(t, f.do(t, http.MethodGet, "/api/v1/wallets/0x123/balance", nil, ""), http.StatusBadRequest, "invalid_address")
		if f.chain.CallCount("BalanceAt") != 0 {
			t.Error("invalid address must not reach the provider")
		}
	})

	t.Run("provider unavailable", func(t *testing.T) {
		f := setupAPI(t)
		f.chain.BalanceAtFunc = func(context.Context, common.Address) (*big.Int, error) {
			return nil, errors.New("dial tcp: connection refused")
		}
		expectError(t, f.do(t, http.MethodGet, "/api/v1/wallets/"+testutil.AliceAddress+"/balance", nil, ""),
			http.StatusServiceUnavailable, "provider_unavailable")
	})
}

func TestPortfolioHandler_GetHoldings(t *testing.T) {
	t.Run("empty wallet has an empty list", func(t *testing.T) {
		f := setupAPI(t)

		rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+testutil.AliceAddress+"/holdings", nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"holdings":[]`) {
			t.Errorf("expected an empty array, got %s", rec.Body.String())
		}
	})

	t.Run("lists tokens", func(t *testing.T) {
		f := setupAPI(t)
		f.chain.SetTokenBalance(testutil.AliceAddress, testutil.USDCAddress, big.NewInt(2_500_000))

		body := decodeBody[HoldingsResponse](t, f.do(t, http.MethodGet, "/api/v1/wallets/"+testutil.AliceAddress+"/holdings", nil, ""))
		if len(body.Holdings) != 1 || body.Holdings[0].Symbol != "USDC" || body.Holdings[0].Formatted != "2.5" {
			t.Errorf("unexpected holdings %+v", body.Holdings)
		}
	})
}

func TestPortfolioHandler_Refresh(t *testing.T) {
	f := setupAPI(t)
	f.chain.SetNativeBalance(testutil.AliceAddress, testutil.Ether(1))

	rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+testutil.AliceAddress+"/refresh", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if f.balances.Latest(testutil.AliceAddress) == nil {
		t.Error("refresh should store the snapshot")
	}
}

func TestPortfolioHandler_GetTransactions(t *testing.T) {
	f := setupAPI(t)
	f.txRepo.AddRecords(testutil.CreateMultipleRecords(5, testutil.RecordWithAddresses(testutil.AliceAddress, testutil.BobAddress))...)

	tests := []struct {
		name    string
		query   string
		want    int
		hasMore bool
	}{
		{"default page", "", 5, false},
		{"limited", "?limit=2", 2, true},
		{"offset", "?limit=2&offset=4", 1, false},
		{"bad values use defaults", "?limit=abc&offset=-1", 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+testutil.AliceAddress+"/transactions"+tt.query, nil, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rec.Code)
			}
			body := decodeBody[services.TransactionListResponse](t, rec)
			if len(body.Transactions) != tt.want || body.HasMore != tt.hasMore {
				t.Errorf("got %d transactions (more=%v), want %d (more=%v)", len(body.Transactions), body.HasMore, tt.want, tt.hasMore)
			}
		})
	}
}

func TestPortfolioHandler_Watch(t *testing.T) {
	f := setupAPI(t)
	f.chain.SetNativeBalance(testutil.AliceAddress, testutil.Ether(3))

	server := httptest.NewServer(f.router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws/portfolio/" + testutil.AliceAddress
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string                   `json:"type"`
		Data entities.BalanceSnapshot `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "snapshot" || msg.Data.NativeRaw != testutil.Ether(3).String() {
		t.Errorf("unexpected frame %+v", msg)
	}

	// the view stays active: a later balance shows up without a request
	f.chain.SetNativeBalance(testutil.AliceAddress, testutil.Ether(4))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Data.NativeRaw == testutil.Ether(4).String() {
			return
		}
	}
	t.Error("periodic refresh did not reach the client")
}
