package services

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/config"
	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/domain/providers"
	"github.com/bimakw/chain-wallet/internal/infrastructure/cache"
)

// ChartService serves price series for the chart view
type ChartService struct {
	market      providers.MarketDataProvider
	cache       *cache.RedisCache
	cfg         config.MarketConfig
	synthesizer SeriesSynthesizer
	logger      *zap.Logger
	now         func() time.Time
}

// NewChartService creates a new chart service. A nil synthesizer disables
// the synthetic fallback.
func NewChartService(
	market providers.MarketDataProvider,
	cache *cache.RedisCache,
	cfg config.MarketConfig,
	synthesizer SeriesSynthesizer,
	logger *zap.Logger,
) *ChartService {
	return &ChartService{
		market:      market,
		cache:       cache,
		cfg:         cfg,
		synthesizer: synthesizer,
		logger:      logger,
		now:         time.Now,
	}
}

// FetchSeries returns the price series of token over timeframe. Market
// history is preferred; otherwise a synthetic series is returned when a
// synthesizer is configured. When neither is available the series is
// empty.
func (s *ChartService) FetchSeries(ctx context.Context, token, timeframe string) (*entities.Series, error) {
	tf, err := entities.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if !entities.IsNativeAddress(token) && !common.IsHexAddress(token) {
		return nil, entities.Wrapf(entities.ErrInvalidAddress, "token %q", token)
	}
	desc := entities.TokenDescriptor{Address: token}

	series := &entities.Series{
		Token:     desc.Key(),
		Timeframe: tf,
		Points:    []entities.PricePoint{},
	}

	history, err := cache.Fetch(ctx, s.cache, cache.Key("history", s.cfg.Platform, desc.Key(), string(tf)), s.cfg.HistoryTTL,
		func(ctx context.Context) ([]entities.PricePoint, error) {
			return s.market.PriceHistory(ctx, desc, tf.Days())
		})
	if err == nil && len(history) > 0 {
		series.Points = history
		return series, nil
	}
	if err != nil {
		s.logger.Debug("Price history unavailable",
			zap.String("token", desc.Key()),
			zap.String("timeframe", string(tf)),
			zap.Error(err),
		)
	}

	if s.synthesizer == nil {
		return series, nil
	}

	prices, err := s.market.TokenPrices(ctx, []entities.TokenDescriptor{desc})
	if err != nil {
		s.logger.Warn("No price for synthetic series", zap.String("token", desc.Key()), zap.Error(err))
		return series, nil
	}
	price, ok := prices[desc.Key()]
	if !ok {
		return series, nil
	}

	if points := s.synthesizer.Synthesize(desc.Key(), tf, price, s.now()); len(points) > 0 {
		series.Points = points
		series.Synthetic = true
	}
	return series, nil
}
