package ethereum

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcHandler func(params []json.RawMessage) (interface{}, *rpcErrorBody)

// rpcMock is a JSON-RPC node answering from per-method handlers
type rpcMock struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]rpcHandler
}

func (m *rpcMock) count(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *rpcMock) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.calls[req.Method]++
	handler, ok := m.handlers[req.Method]
	m.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	switch {
	case req.Method == "eth_chainId" && !ok:
		resp["result"] = "0x1"
	case !ok:
		resp["error"] = rpcErrorBody{Code: rpcMethodNotFound, Message: "method not found"}
	default:
		result, rpcErr := handler(req.Params)
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, handlers map[string]rpcHandler, tune func(*config.EthereumConfig)) (*Client, *rpcMock) {
	t.Helper()

	mock := &rpcMock{calls: make(map[string]int), handlers: handlers}
	server := httptest.NewServer(mock)
	t.Cleanup(server.Close)

	cfg := config.EthereumConfig{
		RPCURL:              server.URL,
		ChainID:             1,
		RequestTimeout:      5 * time.Second,
		MaxRetries:          0,
		RetryDelay:          time.Millisecond,
		TokenBalancesMethod: "alchemy_getTokenBalances",
	}
	if tune != nil {
		tune(&cfg)
	}

	client, err := NewClient(cfg, 2, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	t.Cleanup(client.Close)

	return client, mock
}

// callData extracts the calldata of an eth_call request
func callData(params []json.RawMessage) string {
	var msg struct {
		Data  string `json:"data"`
		Input string `json:"input"`
	}
	_ = json.Unmarshal(params[0], &msg)
	if msg.Input != "" {
		return strings.ToLower(msg.Input)
	}
	return strings.ToLower(msg.Data)
}

func abiUint(v int64) string {
	return "0x" + hex.EncodeToString(common.LeftPadBytes(big.NewInt(v).Bytes(), 32))
}

func abiString(s string) string {
	data := common.LeftPadBytes(big.NewInt(32).Bytes(), 32)
	data = append(data, common.LeftPadBytes(big.NewInt(int64(len(s))).Bytes(), 32)...)
	data = append(data, common.RightPadBytes([]byte(s), 32)...)
	return "0x" + hex.EncodeToString(data)
}

func erc20Handler(decimals int64, balance int64) rpcHandler {
	return func(params []json.RawMessage) (interface{}, *rpcErrorBody) {
		data := callData(params)
		switch {
		case strings.HasPrefix(data, "0x313ce567"):
			return abiUint(decimals), nil
		case strings.HasPrefix(data, "0x95d89b41"):
			return abiString("USDC"), nil
		case strings.HasPrefix(data, "0x06fdde03"):
			return abiString("USD Coin"), nil
		case strings.HasPrefix(data, "0x70a08231"):
			return abiUint(balance), nil
		}
		return nil, &rpcErrorBody{Code: 3, Message: "execution reverted"}
	}
}

func TestNewClient_ChainIDMismatch(t *testing.T) {
	mock := &rpcMock{calls: make(map[string]int), handlers: map[string]rpcHandler{
		"eth_chainId": func([]json.RawMessage) (interface{}, *rpcErrorBody) { return "0x5", nil },
	}}
	server := httptest.NewServer(mock)
	defer server.Close()

	_, err := NewClient(config.EthereumConfig{RPCURL: server.URL, ChainID: 1, RequestTimeout: time.Second}, 1, zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "chain ID mismatch") {
		t.Fatalf("expected chain ID mismatch, got %v", err)
	}
}

func TestClient_BalanceAt(t *testing.T) {
	client, _ := newTestClient(t, map[string]rpcHandler{
		// 2.5 ETH
		"eth_getBalance": func([]json.RawMessage) (interface{}, *rpcErrorBody) { return "0x22b1c8c1227a0000", nil },
	}, nil)

	balance, err := client.BalanceAt(context.Background(), common.HexToAddress("0x1"))
	if err != nil {
		t.Fatalf("BalanceAt() error: %v", err)
	}
	if balance.String() != "2500000000000000000" {
		t.Errorf("BalanceAt() = %s, want 2500000000000000000", balance)
	}
}

func TestClient_RetriesTransportErrors(t *testing.T) {
	var mu sync.Mutex
	attempts := 0

	inner := &rpcMock{calls: make(map[string]int), handlers: map[string]rpcHandler{
		"eth_gasPrice": func([]json.RawMessage) (interface{}, *rpcErrorBody) { return "0x3b9aca00", nil },
	}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := string(raw)
		if strings.Contains(body, "eth_gasPrice") {
			mu.Lock()
			attempts++
			first := attempts == 1
			mu.Unlock()
			if first {
				http.Error(w, "upstream busy", http.StatusServiceUnavailable)
				return
			}
		}
		r.Body = io.NopCloser(strings.NewReader(body))
		inner.ServeHTTP(w, r)
	}))
	defer server.Close()

	client, err := NewClient(config.EthereumConfig{
		RPCURL:         server.URL,
		ChainID:        1,
		RequestTimeout: time.Second,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	defer client.Close()

	price, err := client.SuggestGasPrice(context.Background())
	if err != nil {
		t.Fatalf("SuggestGasPrice() error: %v", err)
	}
	if price.Int64() != 1_000_000_000 {
		t.Errorf("SuggestGasPrice() = %s, want 1 gwei", price)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestClient_DoesNotRetryRPCErrors(t *testing.T) {
	client, mock := newTestClient(t, map[string]rpcHandler{
		"eth_estimateGas": func([]json.RawMessage) (interface{}, *rpcErrorBody) {
			return nil, &rpcErrorBody{Code: 3, Message: "execution reverted"}
		},
	}, func(cfg *config.EthereumConfig) { cfg.MaxRetries = 3 })

	to := common.HexToAddress("0x2")
	_, err := client.EstimateGas(context.Background(), ethereum.CallMsg{To: &to})
	if err == nil {
		t.Fatal("expected revert error")
	}
	if n := mock.count("eth_estimateGas"); n != 1 {
		t.Errorf("expected a single estimate call, got %d", n)
	}
	if !IsRevert(err) {
		t.Errorf("IsRevert(%v) = false", err)
	}
}

func TestIsRevert(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("execution reverted: TRANSFER_FROM_FAILED"), true},
		{fmt.Errorf("estimate: %w", errors.New("Execution Reverted")), true},
		{errors.New("dial tcp 127.0.0.1:8545: connection refused"), false},
	}

	for _, tt := range tests {
		if got := IsRevert(tt.err); got != tt.want {
			t.Errorf("IsRevert(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClient_TokenMetadata(t *testing.T) {
	t.Run("resolves decimals and symbol", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]rpcHandler{"eth_call": erc20Handler(6, 0)}, nil)

		meta, err := client.TokenMetadata(context.Background(), common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"))
		if err != nil {
			t.Fatalf("TokenMetadata() error: %v", err)
		}
		if meta.Decimals != 6 || meta.Symbol != "USDC" || meta.Name != "USD Coin" {
			t.Errorf("TokenMetadata() = %+v", meta)
		}
	})

	t.Run("missing decimals is an error", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]rpcHandler{
			"eth_call": func([]json.RawMessage) (interface{}, *rpcErrorBody) { return "0x", nil },
		}, nil)

		_, err := client.TokenMetadata(context.Background(), common.HexToAddress("0x3"))
		if !errors.Is(err, entities.ErrNotFound) {
			t.Fatalf("expected not found when decimals cannot be read, got %v", err)
		}
	})

	t.Run("revert is not found", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]rpcHandler{
			"eth_call": func([]json.RawMessage) (interface{}, *rpcErrorBody) {
				return nil, &rpcErrorBody{Code: 3, Message: "execution reverted"}
			},
		}, nil)

		_, err := client.TokenMetadata(context.Background(), common.HexToAddress("0x3"))
		if !errors.Is(err, entities.ErrNotFound) {
			t.Fatalf("expected not found for a reverting contract, got %v", err)
		}
	})

	t.Run("node failure is not a missing token", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]rpcHandler{"eth_call": erc20Handler(6, 0)}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := client.TokenMetadata(ctx, common.HexToAddress("0x3"))
		if err == nil || errors.Is(err, entities.ErrNotFound) {
			t.Fatalf("expected a plain failure, got %v", err)
		}
	})
}

func TestClient_TokenBalances(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdc := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

	t.Run("enumerates with the node method", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]rpcHandler{
			"alchemy_getTokenBalances": func([]json.RawMessage) (interface{}, *rpcErrorBody) {
				return map[string]interface{}{
					"address": owner.Hex(),
					"tokenBalances": []map[string]interface{}{
						{"contractAddress": usdc.Hex(), "tokenBalance": "0x00000000000000000000000000000000000000000000000000000000001e8480"},
						{"contractAddress": dai.Hex(), "tokenBalance": "0x0000000000000000000000000000000000000000000000000000000000000000"},
						{"contractAddress": "0x0000000000000000000000000000000000000003", "tokenBalance": nil},
					},
				}, nil
			},
		}, nil)

		balances, err := client.TokenBalances(context.Background(), owner, nil)
		if err != nil {
			t.Fatalf("TokenBalances() error: %v", err)
		}
		if len(balances) != 1 {
			t.Fatalf("expected 1 non-zero balance, got %d", len(balances))
		}
		if balances[0].Contract != usdc || balances[0].Balance.Int64() != 2_000_000 {
			t.Errorf("unexpected balance %+v", balances[0])
		}
	})

	t.Run("empty wallet yields empty list", func(t *testing.T) {
		client, _ := newTestClient(t, map[string]rpcHandler{
			"alchemy_getTokenBalances": func([]json.RawMessage) (interface{}, *rpcErrorBody) {
				return map[string]interface{}{"address": owner.Hex(), "tokenBalances": []interface{}{}}, nil
			},
		}, nil)

		balances, err := client.TokenBalances(context.Background(), owner, nil)
		if err != nil {
			t.Fatalf("TokenBalances() error: %v", err)
		}
		if balances == nil || len(balances) != 0 {
			t.Errorf("expected empty non-nil list, got %v", balances)
		}
	})

	t.Run("falls back to balanceOf when unsupported", func(t *testing.T) {
		client, mock := newTestClient(t, map[string]rpcHandler{"eth_call": erc20Handler(6, 500)}, nil)

		balances, err := client.TokenBalances(context.Background(), owner, []common.Address{usdc, dai})
		if err != nil {
			t.Fatalf("TokenBalances() error: %v", err)
		}
		if len(balances) != 2 {
			t.Fatalf("expected 2 balances, got %d", len(balances))
		}
		if balances[0].Contract != usdc || balances[1].Contract != dai {
			t.Errorf("balances should keep the order of known tokens")
		}
		if mock.count("alchemy_getTokenBalances") != 1 {
			t.Errorf("expected one enumeration attempt")
		}
	})

	t.Run("scans known tokens when enumeration disabled", func(t *testing.T) {
		client, mock := newTestClient(t, map[string]rpcHandler{"eth_call": erc20Handler(6, 0)},
			func(cfg *config.EthereumConfig) { cfg.TokenBalancesMethod = "" })

		balances, err := client.TokenBalances(context.Background(), owner, []common.Address{usdc})
		if err != nil {
			t.Fatalf("TokenBalances() error: %v", err)
		}
		if len(balances) != 0 {
			t.Errorf("zero balances should be dropped, got %v", balances)
		}
		if mock.count("alchemy_getTokenBalances") != 0 {
			t.Errorf("enumeration should not be attempted")
		}
	})
}

func TestClient_TransactionReceiptPending(t *testing.T) {
	client, _ := newTestClient(t, map[string]rpcHandler{
		"eth_getTransactionReceipt": func([]json.RawMessage) (interface{}, *rpcErrorBody) { return nil, nil },
	}, nil)

	_, err := client.TransactionReceipt(context.Background(), common.HexToHash("0x1"))
	if !errors.Is(err, ethereum.NotFound) {
		t.Fatalf("expected ethereum.NotFound, got %v", err)
	}
}

func TestParseHexQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"0x000000000000000000000000000000000000000000000000000000000000000a", "10", true},
		{"0x", "0", true},
		{"0xzz", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseHexQuantity(tt.in)
			if ok != tt.ok {
				t.Fatalf("parseHexQuantity(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got.String() != tt.want {
				t.Errorf("parseHexQuantity(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func ExamplePackTransfer() {
	data, _ := PackTransfer(common.HexToAddress("0x2"), big.NewInt(1))
	fmt.Println(hex.EncodeToString(data[:4]))
	// Output: a9059cbb
}
