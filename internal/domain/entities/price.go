package entities

import (
	"strings"
	"time"
)

// Timeframe is a chart window
type Timeframe string

const (
	Timeframe1D Timeframe = "1D"
	Timeframe1W Timeframe = "1W"
	Timeframe1M Timeframe = "1M"
	Timeframe1Y Timeframe = "1Y"
)

var timeframeSpecs = map[Timeframe]struct {
	days   int
	points int
}{
	Timeframe1D: {days: 1, points: 24},
	Timeframe1W: {days: 7, points: 28},
	Timeframe1M: {days: 30, points: 30},
	Timeframe1Y: {days: 365, points: 52},
}

// ParseTimeframe parses a timeframe name case-insensitively
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := timeframeSpecs[tf]; !ok {
		return "", Wrapf(ErrInvalidInput, "unknown timeframe %q", s)
	}
	return tf, nil
}

// Days returns the history window in days
func (tf Timeframe) Days() int {
	return timeframeSpecs[tf].days
}

// Points returns the number of points of a synthesized series
func (tf Timeframe) Points() int {
	return timeframeSpecs[tf].points
}

// Duration returns the window length
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Days()) * 24 * time.Hour
}

// PricePoint is one sample of a price series
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Series is a chart series. Synthetic series are illustrative and must be
// labelled as such by callers.
type Series struct {
	Token     string       `json:"token"`
	Timeframe Timeframe    `json:"timeframe"`
	Points    []PricePoint `json:"points"`
	Synthetic bool         `json:"synthetic"`
}

// TokenPrice is the current USD price of a token
type TokenPrice struct {
	USD       float64 `json:"usd"`
	Change24h float64 `json:"change_24h"`
}
