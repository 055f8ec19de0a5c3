package services

import (
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// SeriesSynthesizer produces an illustrative series when no price history
// is available
type SeriesSynthesizer interface {
	Synthesize(token string, tf entities.Timeframe, price entities.TokenPrice, end time.Time) []entities.PricePoint
}

// OscillatingSynthesizer draws a seeded oscillation around a drift line that
// ends at the current price. The same token and timeframe always produce the
// same shape.
type OscillatingSynthesizer struct {
	// Amplitude bounds every point to price*(1±Amplitude)
	Amplitude float64
}

// NewOscillatingSynthesizer returns a synthesizer bounded to ±10%
func NewOscillatingSynthesizer() *OscillatingSynthesizer {
	return &OscillatingSynthesizer{Amplitude: 0.10}
}

// Synthesize returns tf.Points() samples ending at end with price.USD
func (s *OscillatingSynthesizer) Synthesize(token string, tf entities.Timeframe, price entities.TokenPrice, end time.Time) []entities.PricePoint {
	n := tf.Points()
	if n < 2 || price.USD <= 0 {
		return []entities.PricePoint{}
	}

	seed := fnv.New64a()
	_, _ = seed.Write([]byte(entities.TokenDescriptor{Address: token}.Key()))
	_, _ = seed.Write([]byte(tf))
	rng := rand.New(rand.NewSource(int64(seed.Sum64())))

	// a rising 24h change means the window started lower
	direction := 1.0
	if price.Change24h < 0 {
		direction = -1.0
	}
	cycles := 2 + rng.Float64()*2
	phase := rng.Float64() * 2 * math.Pi

	step := tf.Duration() / time.Duration(n-1)
	lo, hi := price.USD*(1-s.Amplitude), price.USD*(1+s.Amplitude)

	points := make([]entities.PricePoint, n)
	for i := 0; i < n; i++ {
		progress := float64(i) / float64(n-1)
		remaining := 1 - progress

		drift := -direction * s.Amplitude / 2 * remaining
		wave := s.Amplitude / 3 * math.Sin(2*math.Pi*cycles*progress+phase) * remaining
		noise := (rng.Float64() - 0.5) * s.Amplitude / 5 * remaining

		value := price.USD * (1 + drift + wave + noise)
		points[i] = entities.PricePoint{
			Timestamp: end.Add(-time.Duration(n-1-i) * step).UTC(),
			Price:     math.Min(hi, math.Max(lo, value)),
		}
	}
	points[n-1].Price = price.USD

	return points
}
