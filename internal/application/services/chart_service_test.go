package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
	"github.com/bimakw/chain-wallet/internal/testutil"
)

func newChartFixture(synth SeriesSynthesizer) (*testutil.MockMarketData, *ChartService) {
	market := testutil.NewMockMarketData()
	charts := NewChartService(market, nil, testMarketConfig(), synth, zap.NewNop())
	charts.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return market, charts
}

func TestChartService_FetchSeries(t *testing.T) {
	ctx := context.Background()
	usdc := entities.TokenDescriptor{Address: testutil.USDCAddress}

	t.Run("market history", func(t *testing.T) {
		market, charts := newChartFixture(NewOscillatingSynthesizer())
		market.History[usdc.Key()] = []entities.PricePoint{
			{Timestamp: time.Unix(1, 0), Price: 0.99},
			{Timestamp: time.Unix(2, 0), Price: 1.01},
		}

		series, err := charts.FetchSeries(ctx, testutil.USDCAddress, "1w")
		if err != nil {
			t.Fatalf("FetchSeries() error: %v", err)
		}
		if series.Synthetic || len(series.Points) != 2 || series.Timeframe != entities.Timeframe1W {
			t.Errorf("unexpected series %+v", series)
		}
		if market.CallCount("TokenPrices") != 0 {
			t.Error("real history should not need the current price")
		}
	})

	t.Run("synthetic fallback", func(t *testing.T) {
		market, charts := newChartFixture(NewOscillatingSynthesizer())
		market.SetPrice(usdc, 2.0, 3.5)

		series, err := charts.FetchSeries(ctx, testutil.USDCAddress, "1M")
		if err != nil {
			t.Fatalf("FetchSeries() error: %v", err)
		}
		if !series.Synthetic {
			t.Error("fallback series must be marked synthetic")
		}
		if len(series.Points) != 30 {
			t.Fatalf("expected 30 points, got %d", len(series.Points))
		}
		if last := series.Points[len(series.Points)-1]; last.Price != 2.0 || !last.Timestamp.Equal(charts.now()) {
			t.Errorf("series should end at the current price, got %+v", last)
		}
	})

	t.Run("empty history falls back", func(t *testing.T) {
		market, charts := newChartFixture(NewOscillatingSynthesizer())
		market.History[usdc.Key()] = []entities.PricePoint{}
		market.SetPrice(usdc, 1.0, 0)

		series, _ := charts.FetchSeries(ctx, testutil.USDCAddress, "1D")
		if !series.Synthetic || len(series.Points) != 24 {
			t.Errorf("expected 24 synthetic points, got %d", len(series.Points))
		}
	})

	t.Run("fallback disabled", func(t *testing.T) {
		market, charts := newChartFixture(nil)
		market.SetPrice(usdc, 1.0, 0)

		series, err := charts.FetchSeries(ctx, testutil.USDCAddress, "1Y")
		if err != nil {
			t.Fatalf("FetchSeries() error: %v", err)
		}
		if series.Synthetic || len(series.Points) != 0 {
			t.Errorf("expected an empty series, got %+v", series)
		}
	})

	t.Run("both sources fail", func(t *testing.T) {
		market, charts := newChartFixture(NewOscillatingSynthesizer())
		market.TokenPricesFunc = func(context.Context, []entities.TokenDescriptor) (map[string]entities.TokenPrice, error) {
			return nil, errors.New("rate limited")
		}

		series, err := charts.FetchSeries(ctx, testutil.USDCAddress, "1D")
		if err != nil {
			t.Fatalf("FetchSeries() should not fail, got %v", err)
		}
		if series.Points == nil || len(series.Points) != 0 {
			t.Errorf("expected an empty, non-nil series, got %+v", series.Points)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		_, charts := newChartFixture(NewOscillatingSynthesizer())

		if _, err := charts.FetchSeries(ctx, testutil.USDCAddress, "5Y"); !errors.Is(err, entities.ErrInvalidInput) {
			t.Errorf("unknown timeframe: expected ErrInvalidInput, got %v", err)
		}
		if _, err := charts.FetchSeries(ctx, "usdc", "1D"); !errors.Is(err, entities.ErrInvalidAddress) {
			t.Errorf("bad token: expected ErrInvalidAddress, got %v", err)
		}
	})
}

func TestOscillatingSynthesizer(t *testing.T) {
	synth := NewOscillatingSynthesizer()
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		tf     entities.Timeframe
		points int
	}{
		{entities.Timeframe1D, 24},
		{entities.Timeframe1W, 28},
		{entities.Timeframe1M, 30},
		{entities.Timeframe1Y, 52},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			price := entities.TokenPrice{USD: 100, Change24h: -4}
			points := synth.Synthesize(testutil.USDCAddress, tt.tf, price, end)

			if len(points) != tt.points {
				t.Fatalf("expected %d points, got %d", tt.points, len(points))
			}
			for i, p := range points {
				if p.Price < 90 || p.Price > 110 {
					t.Errorf("point %d = %f outside ±10%%", i, p.Price)
				}
				if i > 0 && !p.Timestamp.After(points[i-1].Timestamp) {
					t.Errorf("timestamps not increasing at %d", i)
				}
			}
			if got := points[len(points)-1]; got.Price != 100 || !got.Timestamp.Equal(end) {
				t.Errorf("last point = %+v", got)
			}
			if want := end.Add(-tt.tf.Duration()); !points[0].Timestamp.Equal(want) {
				t.Errorf("first timestamp = %s, want %s", points[0].Timestamp, want)
			}
		})
	}

	t.Run("deterministic", func(t *testing.T) {
		price := entities.TokenPrice{USD: 5, Change24h: 1}
		a := synth.Synthesize(testutil.USDCAddress, entities.Timeframe1W, price, end)
		b := synth.Synthesize(testutil.USDCAddress, entities.Timeframe1W, price, end)
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("point %d differs: %+v vs %+v", i, a[i], b[i])
			}
		}
	})

	t.Run("drift follows 24h change", func(t *testing.T) {
		up := synth.Synthesize(testutil.USDCAddress, entities.Timeframe1Y, entities.TokenPrice{USD: 10, Change24h: 2}, end)
		down := synth.Synthesize(testutil.USDCAddress, entities.Timeframe1Y, entities.TokenPrice{USD: 10, Change24h: -2}, end)

		if mean(up[:10]) >= mean(down[:10]) {
			t.Errorf("rising series should start below a falling one: %f vs %f", mean(up[:10]), mean(down[:10]))
		}
	})

	t.Run("no price", func(t *testing.T) {
		if points := synth.Synthesize(testutil.USDCAddress, entities.Timeframe1D, entities.TokenPrice{}, end); len(points) != 0 {
			t.Errorf("expected no points without a price, got %d", len(points))
		}
	})
}

func mean(points []entities.PricePoint) float64 {
	var sum float64
	for _, p := range points {
		sum += p.Price
	}
	return sum / math.Max(1, float64(len(points)))
}
