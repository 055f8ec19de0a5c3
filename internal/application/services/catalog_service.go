package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
	"github.com/bimakw/chain-wallet/internal/domain/repositories"
	"github.com/bimakw/chain-wallet/internal/infrastructure/cache"
	chain "github.com/bimakw/chain-wallet/internal/infrastructure/ethereum"
)

const (
	// MaxRecentTokens caps the recently used token list
	MaxRecentTokens = 10

	// MaxSearchResults caps fuzzy search results
	MaxSearchResults = 20
)

// CatalogService resolves user queries to token descriptors and keeps the
// recently used token list
type CatalogService struct {
	chain     providers.ChainProvider
	market    providers.MarketDataProvider
	usageRepo repositories.TokenUsageRepository
	cache     *cache.RedisCache
	cfg       config.MarketConfig
	native    entities.TokenDescriptor
	namespace string
	workers   int
	logger    *zap.Logger

	// serializes read-modify-write of the recent list
	usageMu sync.Mutex
}

// NewCatalogService creates a new catalog service
func NewCatalogService(
	chain providers.ChainProvider,
	market providers.MarketDataProvider,
	usageRepo repositories.TokenUsageRepository,
	cache *cache.RedisCache,
	cfg config.MarketConfig,
	native entities.TokenDescriptor,
	namespace string,
	workers int,
	logger *zap.Logger,
) *CatalogService {
	if workers < 1 {
		workers = 1
	}
	return &CatalogService{
		chain:     chain,
		market:    market,
		usageRepo: usageRepo,
		cache:     cache,
		cfg:       cfg,
		native:    native,
		namespace: namespace,
		workers:   workers,
		logger:    logger,
	}
}

// Native returns the native asset descriptor
func (s *CatalogService) Native() entities.TokenDescriptor {
	return s.native
}

// Resolve maps a query to matching tokens. A well-formed address yields at
// most one result; any other text is searched by symbol and name.
func (s *CatalogService) Resolve(ctx context.Context, query string) ([]entities.TokenDescriptor, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.Recent(ctx)
	}

	if isAddressQuery(query) {
		return s.lookupAddress(ctx, query)
	}
	return s.search(ctx, query)
}

func isAddressQuery(q string) bool {
	return strings.HasPrefix(q, "0x") && len(q) == 42 && common.IsHexAddress(q)
}

func (s *CatalogService) lookupAddress(ctx context.Context, address string) ([]entities.TokenDescriptor, error) {
	if entities.IsNativeAddress(address) {
		return []entities.TokenDescriptor{s.native}, nil
	}

	var (
		desc       entities.TokenDescriptor
		chainErr   error
		details    *providers.TokenDetails
		detailsErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		desc, chainErr = s.Describe(gctx, address)
		return nil
	})
	g.Go(func() error {
		details, detailsErr = s.tokenDetails(gctx, address)
		return nil
	})
	_ = g.Wait()

	if chainErr != nil {
		if details == nil {
			if detailsErr != nil && !errors.Is(detailsErr, entities.ErrNotFound) {
				return nil, providerError("resolve token", detailsErr)
			}
			// only a contract that is not a token is an empty result
			if !errors.Is(chainErr, entities.ErrNotFound) && !chain.IsRevert(chainErr) {
				return nil, providerError("resolve token", chainErr)
			}
			s.logger.Debug("Token not found", zap.String("address", address), zap.Error(chainErr))
			return []entities.TokenDescriptor{}, nil
		}

		desc = entities.TokenDescriptor{
			Address: common.HexToAddress(address).Hex(),
			Symbol:  strings.ToUpper(details.Symbol),
			Name:    details.Name,
		}
		if details.Decimals != nil {
			desc.Decimals = *details.Decimals
			desc.DecimalsKnown = true
		}
	}

	if details != nil && details.ImageURL != "" {
		desc.LogoURL = details.ImageURL
	}
	return []entities.TokenDescriptor{desc}, nil
}

// searchMatch is a coin list entry that matched a query
type searchMatch struct {
	token entities.TokenDescriptor
	rank  int
}

// matchRank scores how well symbol and name match q, lower is better. It
// returns -1 for no match.
func matchRank(q, symbol, name string) int {
	q = strings.ToLower(q)
	symbol = strings.ToLower(symbol)
	name = strings.ToLower(name)

	switch {
	case symbol == q:
		return 0
	case strings.HasPrefix(symbol, q):
		return 1
	case strings.HasPrefix(name, q):
		return 2
	case strings.Contains(symbol, q):
		return 3
	case strings.Contains(name, q):
		return 4
	default:
		return -1
	}
}

func (s *CatalogService) search(ctx context.Context, query string) ([]entities.TokenDescriptor, error) {
	coins, err := cache.Fetch(ctx, s.cache, cache.Key("coins", s.cfg.Platform), s.cfg.CoinListTTL, s.market.CoinList)
	if err != nil {
		return nil, providerError("search tokens", err)
	}

	recent, err := s.Recent(ctx)
	if err != nil {
		s.logger.Warn("Failed to load recent tokens", zap.Error(err))
		recent = []entities.TokenDescriptor{s.native}
	}

	results := make([]entities.TokenDescriptor, 0, MaxSearchResults)
	seen := make(map[string]bool)
	add := func(t entities.TokenDescriptor) {
		if len(results) < MaxSearchResults && !seen[t.Key()] {
			seen[t.Key()] = true
			results = append(results, t)
		}
	}

	for _, t := range recent {
		if matchRank(query, t.Symbol, t.Name) >= 0 {
			add(t)
		}
	}
	if matchRank(query, s.native.Symbol, s.native.Name) >= 0 {
		add(s.native)
	}

	var matches []searchMatch
	for _, coin := range coins {
		address, ok := coin.Platforms[s.cfg.Platform]
		if !ok || !common.IsHexAddress(address) {
			continue
		}
		rank := matchRank(query, coin.Symbol, coin.Name)
		if rank < 0 {
			continue
		}
		matches = append(matches, searchMatch{
			token: entities.TokenDescriptor{
				Address: common.HexToAddress(address).Hex(),
				Symbol:  strings.ToUpper(coin.Symbol),
				Name:    coin.Name,
			},
			rank: rank,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank < matches[j].rank })

	for _, m := range matches {
		add(m.token)
	}

	s.resolveDecimals(ctx, results)
	return results, nil
}

// resolveDecimals fills in on-chain decimals for tokens that lack them.
// Tokens whose decimals cannot be read keep DecimalsKnown false.
func (s *CatalogService) resolveDecimals(ctx context.Context, tokens []entities.TokenDescriptor) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i := range tokens {
		if tokens[i].DecimalsKnown || tokens[i].IsNative() {
			continue
		}
		i := i
		g.Go(func() error {
			desc, err := s.Describe(gctx, tokens[i].Address)
			if err != nil {
				s.logger.Debug("Decimals unresolved",
					zap.String("address", tokens[i].Address),
					zap.Error(err),
				)
				return nil
			}
			tokens[i].Decimals = desc.Decimals
			tokens[i].DecimalsKnown = true
			return nil
		})
	}
	_ = g.Wait()
}

// Describe reads a token's on-chain metadata. Results are cached.
func (s *CatalogService) Describe(ctx context.Context, address string) (entities.TokenDescriptor, error) {
	if entities.IsNativeAddress(address) {
		return s.native, nil
	}
	if !common.IsHexAddress(address) {
		return entities.TokenDescriptor{}, entities.Wrapf(entities.ErrInvalidAddress, "%q", address)
	}

	contract := common.HexToAddress(address)
	return cache.Fetch(ctx, s.cache, cache.Key("token", contract.Hex()), s.cfg.MetadataTTL,
		func(ctx context.Context) (entities.TokenDescriptor, error) {
			md, err := s.chain.TokenMetadata(ctx, contract)
			if err != nil {
				return entities.TokenDescriptor{}, err
			}
			return entities.TokenDescriptor{
				Address:       contract.Hex(),
				Symbol:        md.Symbol,
				Name:          md.Name,
				Decimals:      md.Decimals,
				DecimalsKnown: true,
			}, nil
		})
}

func (s *CatalogService) tokenDetails(ctx context.Context, address string) (*providers.TokenDetails, error) {
	return cache.Fetch(ctx, s.cache, cache.Key("details", s.cfg.Platform, address), s.cfg.MetadataTTL,
		func(ctx context.Context) (*providers.TokenDetails, error) {
			return s.market.TokenDetails(ctx, address)
		})
}

// LogoURL returns the token's logo: its own, the market provider's, or a
// placeholder keyed by symbol. Lookup failures fall through silently.
func (s *CatalogService) LogoURL(ctx context.Context, token entities.TokenDescriptor) string {
	if token.LogoURL != "" {
		return token.LogoURL
	}

	if !token.IsNative() && common.IsHexAddress(token.Address) {
		details, err := s.tokenDetails(ctx, token.Address)
		if err == nil && details.ImageURL != "" {
			return details.ImageURL
		}
	}

	return fmt.Sprintf(s.cfg.LogoPlaceholder, url.QueryEscape(token.Symbol))
}

// Recent returns the recently used tokens, most recent first. The native
// asset is always present.
func (s *CatalogService) Recent(ctx context.Context) ([]entities.TokenDescriptor, error) {
	tokens, err := s.usageRepo.List(ctx, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent tokens: %w", err)
	}

	for _, t := range tokens {
		if t.IsNative() {
			return tokens, nil
		}
	}
	return append(tokens, s.native), nil
}

// RecordUsage moves token to the front of the recent list. The list is
// capped at MaxRecentTokens and never evicts the native asset.
func (s *CatalogService) RecordUsage(ctx context.Context, token entities.TokenDescriptor) ([]entities.TokenDescriptor, error) {
	if !common.IsHexAddress(token.Address) {
		return nil, entities.Wrapf(entities.ErrInvalidAddress, "%q", token.Address)
	}
	if token.IsNative() {
		token = s.native
	}

	s.usageMu.Lock()
	defer s.usageMu.Unlock()

	current, err := s.Recent(ctx)
	if err != nil {
		return nil, err
	}

	updated := make([]entities.TokenDescriptor, 0, len(current)+1)
	updated = append(updated, token)
	for _, t := range current {
		if t.Key() != token.Key() {
			updated = append(updated, t)
		}
	}
	updated = capRecent(updated)

	if err := s.usageRepo.Replace(ctx, s.namespace, updated); err != nil {
		return nil, fmt.Errorf("failed to store recent tokens: %w", err)
	}
	return updated, nil
}

// capRecent drops the least recent non-native tokens beyond the cap
func capRecent(tokens []entities.TokenDescriptor) []entities.TokenDescriptor {
	for len(tokens) > MaxRecentTokens {
		drop := -1
		for i := len(tokens) - 1; i >= 0; i-- {
			if !tokens[i].IsNative() {
				drop = i
				break
			}
		}
		if drop < 0 {
			break
		}
		tokens = append(tokens[:drop], tokens[drop+1:]...)
	}
	return tokens
}

// providerError marks err as a provider failure unless it already carries
// a wallet error kind
func providerError(op string, err error) error {
	var kind *entities.Error
	if errors.As(err, &kind) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return entities.Unavailable(op, err)
}
