package services

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
	"github.com/bimakw/chain-wallet/internal/infrastructure/metrics"
)

// sharedCallTimeout bounds a provider call shared by several callers. It
// outlives any single caller's context.
const sharedCallTimeout = time.Minute

// BalanceService aggregates native and token balances of an address
type BalanceService struct {
	chain   providers.ChainProvider
	market  providers.MarketDataProvider
	catalog *CatalogService
	cfg     config.BalanceConfig
	metrics *metrics.Wallet
	logger  *zap.Logger

	inflight singleflight.Group

	mu       sync.RWMutex
	latest   map[string]*entities.BalanceSnapshot
	watchers map[string]map[chan entities.BalanceUpdate]struct{}
}

// NewBalanceService creates a new balance service
func NewBalanceService(
	chain providers.ChainProvider,
	market providers.MarketDataProvider,
	catalog *CatalogService,
	cfg config.BalanceConfig,
	m *metrics.Wallet,
	logger *zap.Logger,
) *BalanceService {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	return &BalanceService{
		chain:    chain,
		market:   market,
		catalog:  catalog,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		latest:   make(map[string]*entities.BalanceSnapshot),
		watchers: make(map[string]map[chan entities.BalanceUpdate]struct{}),
	}
}

// shared runs fn once for all concurrent callers with the same key. A
// caller whose context ends stops waiting; the call itself carries on for
// the others.
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return fn(callCtx)
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func parseOwner(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, entities.Wrapf(entities.ErrInvalidAddress, "%q", address)
	}
	return common.HexToAddress(address), nil
}

// FetchBalance returns the native balance of address
func (s *BalanceService) FetchBalance(ctx context.Context, address string) (*big.Int, error) {
	owner, err := parseOwner(address)
	if err != nil {
		return nil, err
	}

	balance, err := shared(ctx, &s.inflight, "native:"+owner.Hex(), func(ctx context.Context) (*big.Int, error) {
		b, err := s.chain.BalanceAt(ctx, owner)
		if err != nil {
			return nil, providerError("fetch balance", err)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance), nil
}

// FetchHoldings returns the non-zero ERC-20 holdings of address. An
// address without tokens has an empty, non-nil result.
func (s *BalanceService) FetchHoldings(ctx context.Context, address string) ([]entities.TokenHolding, error) {
	owner, err := parseOwner(address)
	if err != nil {
		return nil, err
	}

	holdings, err := shared(ctx, &s.inflight, "holdings:"+owner.Hex(), func(ctx context.Context) ([]entities.TokenHolding, error) {
		return s.fetchHoldings(ctx, owner)
	})
	if err != nil {
		return nil, err
	}
	// callers of one flight get the same slice
	return entities.CloneHoldings(holdings), nil
}

func (s *BalanceService) fetchHoldings(ctx context.Context, owner common.Address) ([]entities.TokenHolding, error) {
	var known []common.Address
	if recent, err := s.catalog.Recent(ctx); err == nil {
		for _, t := range recent {
			if !t.IsNative() && common.IsHexAddress(t.Address) {
				known = append(known, common.HexToAddress(t.Address))
			}
		}
	} else {
		s.logger.Warn("Failed to load recent tokens", zap.Error(err))
	}

	balances, err := s.chain.TokenBalances(ctx, owner, known)
	if err != nil {
		return nil, providerError("fetch holdings", err)
	}

	holdings := make([]entities.TokenHolding, 0, len(balances))
	for _, b := range balances {
		if b.Balance == nil || b.Balance.Sign() <= 0 {
			continue
		}
		holdings = append(holdings, entities.TokenHolding{
			ContractAddress: b.Contract.Hex(),
			RawBalance:      new(big.Int).Set(b.Balance),
			Balance:         b.Balance.String(),
		})
	}
	if len(holdings) == 0 {
		return holdings, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WorkerCount)
	for i := range holdings {
		h := &holdings[i]
		g.Go(func() error {
			desc, err := s.catalog.Describe(gctx, h.ContractAddress)
			if err != nil {
				s.logger.Debug("Token metadata unavailable",
					zap.String("token", h.ContractAddress),
					zap.Error(err),
				)
				h.Symbol = "UNK"
				h.Name = "Unknown"
				return nil
			}
			h.Symbol = desc.Symbol
			h.Name = desc.Name
			h.Decimals = desc.Decimals
			h.DecimalsKnown = desc.DecimalsKnown
			h.LogoURL = desc.LogoURL
			if h.DecimalsKnown {
				h.Formatted = entities.FormatUnits(h.RawBalance, h.Decimals)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.applyPrices(ctx, holdings)
	return holdings, nil
}

// applyPrices sets USD values where the market has a price. A failed price
// lookup leaves the values empty.
func (s *BalanceService) applyPrices(ctx context.Context, holdings []entities.TokenHolding) {
	if s.market == nil {
		return
	}

	tokens := make([]entities.TokenDescriptor, 0, len(holdings))
	for _, h := range holdings {
		if h.DecimalsKnown {
			tokens = append(tokens, h.Descriptor())
		}
	}
	if len(tokens) == 0 {
		return
	}

	prices, err := s.market.TokenPrices(ctx, tokens)
	if err != nil {
		s.logger.Warn("Token prices unavailable", zap.Error(err))
		return
	}

	for i := range holdings {
		h := &holdings[i]
		price, ok := prices[strings.ToLower(h.ContractAddress)]
		if !ok || !h.DecimalsKnown {
			continue
		}
		value := entities.UnitsToDecimal(h.RawBalance, h.Decimals).Mul(decimal.NewFromFloat(price.USD)).StringFixed(2)
		h.USDValue = &value
	}
}

// Refresh fetches native and token balances together, stores the result as
// the latest snapshot and publishes it to watchers
func (s *BalanceService) Refresh(ctx context.Context, address string) (*entities.BalanceSnapshot, error) {
	owner, err := parseOwner(address)
	if err != nil {
		return nil, err
	}

	snapshot, err := shared(ctx, &s.inflight, "refresh:"+owner.Hex(), func(ctx context.Context) (*entities.BalanceSnapshot, error) {
		var (
			native   *big.Int
			holdings []entities.TokenHolding
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			native, err = s.FetchBalance(gctx, owner.Hex())
			return err
		})
		g.Go(func() error {
			var err error
			holdings, err = s.FetchHoldings(gctx, owner.Hex())
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		return &entities.BalanceSnapshot{
			Address:         owner.Hex(),
			NativeBalance:   native,
			NativeRaw:       native.String(),
			NativeFormatted: entities.FormatUnits(native, entities.NativeDecimals),
			Holdings:        holdings,
			FetchedAt:       time.Now().UTC(),
		}, nil
	})
	s.metrics.IncBalanceRefresh(err)
	if err != nil {
		s.logger.Warn("Balance refresh failed", zap.String("address", owner.Hex()), zap.Error(err))
		return nil, err
	}

	s.store(snapshot.Clone())
	return snapshot.Clone(), nil
}

// store replaces the latest snapshot and notifies watchers. Older
// snapshots never overwrite newer ones.
func (s *BalanceService) store(snapshot *entities.BalanceSnapshot) {
	key := strings.ToLower(snapshot.Address)

	s.mu.Lock()
	if prev, ok := s.latest[key]; ok && prev.FetchedAt.After(snapshot.FetchedAt) {
		s.mu.Unlock()
		return
	}
	s.latest[key] = snapshot
	s.mu.Unlock()

	s.publish(key, entities.BalanceUpdate{Snapshot: snapshot})
}

func (s *BalanceService) publish(key string, update entities.BalanceUpdate) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.watchers[key] {
		offer(ch, entities.BalanceUpdate{Snapshot: update.Snapshot.Clone(), Err: update.Err})
	}
}

// offer delivers update, replacing an undelivered older one
func offer[T any](ch chan T, update T) {
	for {
		select {
		case ch <- update:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Latest returns the last snapshot of address without a network call
func (s *BalanceService) Latest(address string) *entities.BalanceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest[strings.ToLower(common.HexToAddress(address).Hex())].Clone()
}

// Watch refreshes address now and every refresh interval until ctx ends,
// delivering each result. Only the newest undelivered update is kept.
func (s *BalanceService) Watch(ctx context.Context, address string) (<-chan entities.BalanceUpdate, error) {
	owner, err := parseOwner(address)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(owner.Hex())

	ch := make(chan entities.BalanceUpdate, 1)
	s.mu.Lock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[chan entities.BalanceUpdate]struct{})
	}
	s.watchers[key][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers[key], ch)
			if len(s.watchers[key]) == 0 {
				delete(s.watchers, key)
			}
			close(ch)
			s.mu.Unlock()
		}()

		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()

		for {
			if _, err := s.Refresh(ctx, owner.Hex()); err != nil && ctx.Err() == nil {
				s.mu.RLock()
				offer(ch, entities.BalanceUpdate{Err: err})
				s.mu.RUnlock()
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch, nil
}
