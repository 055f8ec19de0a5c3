package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
)

// JSON-RPC "method not found"
const rpcMethodNotFound = -32601

// Ensure Client implements ChainProvider
var _ providers.ChainProvider = (*Client)(nil)

// Client wraps the Ethereum client with retry logic and utilities
type Client struct {
	rpc     *rpc.Client
	client  *ethclient.Client
	config  config.EthereumConfig
	logger  *zap.Logger
	chainID *big.Int
	workers int
}

// NewClient creates a new Ethereum client
func NewClient(cfg config.EthereumConfig, workers int, logger *zap.Logger) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	if chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", cfg.ChainID, chainID.Int64())
	}

	logger.Info("Connected to Ethereum node",
		zap.Int64("chain_id", chainID.Int64()),
	)

	if workers < 1 {
		workers = 1
	}

	return &Client{
		rpc:     rpcClient,
		client:  client,
		config:  cfg,
		logger:  logger,
		chainID: chainID,
		workers: workers,
	}, nil
}

// Close closes the Ethereum client connection
func (c *Client) Close() {
	c.client.Close()
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// HealthCheck verifies the node answers
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.BlockNumber(ctx)
	return err
}

// withRetry runs fn until it succeeds, the node answers with an error, or
// retries run out. Only transport failures are retried: a JSON-RPC error
// response is deterministic and returned as is.
func withRetry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var err error

	for i := 0; i <= c.config.MaxRetries; i++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}

		var rpcErr rpc.Error
		if errors.Is(err, ethereum.NotFound) || errors.As(err, &rpcErr) || ctx.Err() != nil {
			return zero, err
		}

		c.logger.Warn("Failed to "+op+", retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)

		if i < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}
	}

	return zero, fmt.Errorf("failed to %s after %d retries: %w", op, c.config.MaxRetries, err)
}

// BalanceAt returns the native balance of account
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return withRetry(ctx, c, "get balance", func(ctx context.Context) (*big.Int, error) {
		return c.client.BalanceAt(ctx, account, nil)
	})
}

// CallContract executes a read-only call of data against contract
func (c *Client) CallContract(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &contract, Data: data}
	return withRetry(ctx, c, "call contract", func(ctx context.Context) ([]byte, error) {
		return c.client.CallContract(ctx, msg, nil)
	})
}

// PendingNonceAt returns the next nonce of account including pending txs
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return withRetry(ctx, c, "get nonce", func(ctx context.Context) (uint64, error) {
		return c.client.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice returns the node's legacy gas price suggestion
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withRetry(ctx, c, "suggest gas price", func(ctx context.Context) (*big.Int, error) {
		return c.client.SuggestGasPrice(ctx)
	})
}

// EstimateGas estimates the gas needed by msg. A revert is returned
// without retrying.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return withRetry(ctx, c, "estimate gas", func(ctx context.Context) (uint64, error) {
		return c.client.EstimateGas(ctx, msg)
	})
}

// IsRevert reports whether err is the node rejecting a call because it
// reverts, as opposed to the node being unreachable
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

// SendTransaction broadcasts a signed transaction exactly once
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to send transaction %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

// TransactionReceipt returns the receipt of hash, or ethereum.NotFound
// while the transaction is pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return withRetry(ctx, c, "get receipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.client.TransactionReceipt(ctx, hash)
	})
}

type tokenBalancesResult struct {
	Address       string `json:"address"`
	TokenBalances []struct {
		ContractAddress string  `json:"contractAddress"`
		TokenBalance    *string `json:"tokenBalance"`
	} `json:"tokenBalances"`
	PageKey string `json:"pageKey"`
}

// maxTokenBalancePages bounds enumeration of very large wallets
const maxTokenBalancePages = 10

// TokenBalances enumerates the non-zero ERC-20 balances of owner using the
// configured enumeration method. Nodes without one fall back to balanceOf
// over known.
func (c *Client) TokenBalances(ctx context.Context, owner common.Address, known []common.Address) ([]providers.TokenBalance, error) {
	if c.config.TokenBalancesMethod == "" {
		return c.balancesOf(ctx, owner, known)
	}

	balances := make([]providers.TokenBalance, 0)
	pageKey := ""

	for page := 0; page < maxTokenBalancePages; page++ {
		args := []interface{}{owner.Hex(), "erc20"}
		if pageKey != "" {
			args = append(args, map[string]string{"pageKey": pageKey})
		}

		result, err := withRetry(ctx, c, "enumerate token balances", func(ctx context.Context) (*tokenBalancesResult, error) {
			var res tokenBalancesResult
			if err := c.rpc.CallContext(ctx, &res, c.config.TokenBalancesMethod, args...); err != nil {
				return nil, err
			}
			return &res, nil
		})
		if err != nil {
			var rpcErr rpc.Error
			if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcMethodNotFound {
				c.logger.Warn("Token balance enumeration not supported by node, scanning known tokens",
					zap.String("method", c.config.TokenBalancesMethod),
				)
				return c.balancesOf(ctx, owner, known)
			}
			return nil, err
		}

		for _, tb := range result.TokenBalances {
			if tb.TokenBalance == nil {
				continue
			}
			balance, ok := parseHexQuantity(*tb.TokenBalance)
			if !ok || balance.Sign() == 0 {
				continue
			}
			balances = append(balances, providers.TokenBalance{
				Contract: common.HexToAddress(tb.ContractAddress),
				Balance:  balance,
			})
		}

		if result.PageKey == "" {
			break
		}
		pageKey = result.PageKey
	}

	return balances, nil
}

// parseHexQuantity parses a 0x-prefixed hex number that may carry leading
// zeros, which hexutil.Big rejects.
func parseHexQuantity(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return new(big.Int), true
	}
	return new(big.Int).SetString(s, 16)
}
