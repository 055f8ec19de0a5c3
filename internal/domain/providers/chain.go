package providers

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TokenBalance is a raw ERC-20 balance held by an owner
type TokenBalance struct {
	Contract common.Address
	Balance  *big.Int
}

// TokenMetadata is the on-chain ERC-20 metadata of a token
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// ChainProvider defines the chain-data node operations the wallet uses
type ChainProvider interface {
	// ChainID returns the connected chain's ID
	ChainID() *big.Int

	// BalanceAt returns the native balance of account at the latest block
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)

	// TokenBalances enumerates the ERC-20 balances of owner. known lists
	// tokens to check when the node cannot enumerate balances itself.
	TokenBalances(ctx context.Context, owner common.Address, known []common.Address) ([]TokenBalance, error)

	// TokenMetadata reads name, symbol and decimals of an ERC-20 token.
	// It fails when decimals cannot be read.
	TokenMetadata(ctx context.Context, token common.Address) (*TokenMetadata, error)

	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

	// SendTransaction broadcasts a signed transaction. It is never retried.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns ethereum.NotFound while tx is pending
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
