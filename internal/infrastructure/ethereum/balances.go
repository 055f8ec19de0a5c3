package ethereum

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/chain-wallet/internal/domain/providers"
)

// balancesOf reads balanceOf(owner) of each token concurrently and returns
// the non-zero balances in the order of tokens.
func (c *Client) balancesOf(ctx context.Context, owner common.Address, tokens []common.Address) ([]providers.TokenBalance, error) {
	if len(tokens) == 0 {
		return []providers.TokenBalance{}, nil
	}

	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}

	found := make(map[common.Address]*providers.TokenBalance, len(tokens))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, token := range tokens {
		token := token // capture
		g.Go(func() error {
			result, err := c.CallContract(gctx, token, data)
			if err != nil {
				return fmt.Errorf("failed to get balance of token %s: %w", token.Hex(), err)
			}

			balance, err := UnpackBalance(result)
			if err != nil {
				return fmt.Errorf("token %s: %w", token.Hex(), err)
			}
			if balance.Sign() == 0 {
				return nil
			}

			mu.Lock()
			found[token] = &providers.TokenBalance{Contract: token, Balance: balance}
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	balances := make([]providers.TokenBalance, 0, len(found))
	for _, token := range tokens {
		if tb, ok := found[token]; ok {
			balances = append(balances, *tb)
			delete(found, token)
		}
	}

	c.logger.Debug("Scanned token balances",
		zap.String("owner", owner.Hex()),
		zap.Int("token_count", len(tokens)),
		zap.Int("non_zero", len(balances)),
	)

	return balances, nil
}
