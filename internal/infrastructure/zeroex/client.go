package zeroex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
)

const (
	pricePath = "/swap/allowance-holder/price"
	quotePath = "/swap/allowance-holder/quote"

	// maxErrorBody bounds how much of an error response is read
	maxErrorBody = 4096
)

// Ensure Client implements SwapAggregator
var _ providers.SwapAggregator = (*Client)(nil)

// Client is a 0x Swap API v2 client
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *zap.Logger
}

// NewClient creates a new 0x client
func NewClient(cfg config.SwapConfig, logger *zap.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// Price returns an indicative price
func (c *Client) Price(ctx context.Context, req providers.SwapRequest) (*providers.AggregatorQuote, error) {
	return c.fetch(ctx, pricePath, req)
}

// Quote returns a firm quote including the transaction to sign
func (c *Client) Quote(ctx context.Context, req providers.SwapRequest) (*providers.AggregatorQuote, error) {
	if req.Taker == "" {
		return nil, entities.Wrapf(entities.ErrInvalidInput, "taker is required for a firm quote")
	}

	q, err := c.fetch(ctx, quotePath, req)
	if err != nil {
		return nil, err
	}
	if q.LiquidityAvailable && q.Transaction == nil {
		return nil, entities.Unavailable("fetch quote", errors.New("quote response has no transaction"))
	}
	return q, nil
}

type apiTransaction struct {
	To       string `json:"to"`
	Data     string `json:"data"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Value    string `json:"value"`
}

type apiResponse struct {
	LiquidityAvailable   bool    `json:"liquidityAvailable"`
	BuyAmount            string  `json:"buyAmount"`
	SellAmount           string  `json:"sellAmount"`
	MinBuyAmount         string  `json:"minBuyAmount"`
	AllowanceTarget      *string `json:"allowanceTarget"`
	EstimatedPriceImpact *string `json:"estimatedPriceImpact"`
	Issues               struct {
		Allowance *struct {
			Actual  string `json:"actual"`
			Spender string `json:"spender"`
		} `json:"allowance"`
		Balance *struct {
			Token    string `json:"token"`
			Actual   string `json:"actual"`
			Expected string `json:"expected"`
		} `json:"balance"`
	} `json:"issues"`
	Transaction *apiTransaction `json:"transaction"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (c *Client) fetch(ctx context.Context, path string, req providers.SwapRequest) (*providers.AggregatorQuote, error) {
	if req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
		return nil, entities.Wrapf(entities.ErrInvalidAmount, "sell amount must be greater than zero")
	}

	query := url.Values{}
	query.Set("chainId", strconv.FormatInt(req.ChainID, 10))
	query.Set("sellToken", req.SellToken)
	query.Set("buyToken", req.BuyToken)
	query.Set("sellAmount", req.SellAmount.String())
	if req.Taker != "" {
		query.Set("taker", req.Taker)
	}
	if req.SlippageBps > 0 {
		query.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("0x-version", "v2")
	if c.apiKey != "" {
		httpReq.Header.Set("0x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, entities.Unavailable("swap aggregator request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, entities.Unavailable("read swap aggregator response", err)
	}

	var body apiResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, entities.Unavailable("decode swap aggregator response", err)
	}

	c.logger.Debug("Swap aggregator response",
		zap.String("path", path),
		zap.String("sell_token", req.SellToken),
		zap.String("buy_token", req.BuyToken),
		zap.Bool("liquidity", body.LiquidityAvailable),
	)

	return toQuote(body, raw)
}

// statusError maps a non-200 response. Client errors mean the request was
// rejected; everything else is the aggregator being unavailable.
func (c *Client) statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body apiError
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}

	c.logger.Warn("Swap aggregator returned error",
		zap.Int("status", resp.StatusCode),
		zap.String("name", body.Name),
		zap.String("message", msg),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return entities.Unavailable("swap aggregator", fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return entities.Unavailable("swap aggregator", fmt.Errorf("rejected credentials: status %d", resp.StatusCode))
	default:
		return entities.Wrapf(entities.ErrInvalidInput, "swap aggregator rejected request: %s", msg)
	}
}

func toQuote(body apiResponse, raw []byte) (*providers.AggregatorQuote, error) {
	q := &providers.AggregatorQuote{
		LiquidityAvailable: body.LiquidityAvailable,
		PriceImpact:        body.EstimatedPriceImpact,
		Raw:                json.RawMessage(raw),
	}
	if !body.LiquidityAvailable {
		return q, nil
	}

	var err error
	if q.SellAmount, err = parseAmount("sellAmount", body.SellAmount); err != nil {
		return nil, err
	}
	if q.BuyAmount, err = parseAmount("buyAmount", body.BuyAmount); err != nil {
		return nil, err
	}
	if body.MinBuyAmount != "" {
		if q.MinBuyAmount, err = parseAmount("minBuyAmount", body.MinBuyAmount); err != nil {
			return nil, err
		}
	}
	if body.AllowanceTarget != nil {
		q.AllowanceTarget = *body.AllowanceTarget
	}

	if a := body.Issues.Allowance; a != nil {
		actual, err := parseAmount("issues.allowance.actual", a.Actual)
		if err != nil {
			return nil, err
		}
		q.Issues.Allowance = &entities.AllowanceIssue{Actual: actual, Spender: a.Spender}
	}
	if b := body.Issues.Balance; b != nil {
		actual, err := parseAmount("issues.balance.actual", b.Actual)
		if err != nil {
			return nil, err
		}
		expected, err := parseAmount("issues.balance.expected", b.Expected)
		if err != nil {
			return nil, err
		}
		q.Issues.Balance = &entities.BalanceIssue{Token: b.Token, Actual: actual, Expected: expected}
	}

	if tx := body.Transaction; tx != nil {
		q.Transaction, err = toTransaction(tx)
		if err != nil {
			return nil, err
		}
	}

	return q, nil
}

func toTransaction(tx *apiTransaction) (*entities.QuoteTransaction, error) {
	data, err := hexutil.Decode(tx.Data)
	if err != nil {
		return nil, entities.Unavailable("decode quote transaction", fmt.Errorf("data: %w", err))
	}
	value, err := parseAmount("transaction.value", tx.Value)
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseAmount("transaction.gasPrice", tx.GasPrice)
	if err != nil {
		return nil, err
	}
	gas, err := parseAmount("transaction.gas", tx.Gas)
	if err != nil {
		return nil, err
	}
	if !gas.IsUint64() {
		return nil, entities.Unavailable("decode quote transaction", fmt.Errorf("gas out of range: %s", gas))
	}

	return &entities.QuoteTransaction{
		To:       tx.To,
		Data:     data,
		Value:    value,
		Gas:      gas.Uint64(),
		GasPrice: gasPrice,
	}, nil
}

// parseAmount parses a base-10 integer string. Empty means zero.
func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, entities.Unavailable("decode swap aggregator response", fmt.Errorf("%s: invalid integer %q", field, s))
	}
	return v, nil
}
