package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Wallet holds Prometheus metrics for wallet operations. A nil
// *Wallet records nothing.
type Wallet struct {
	Transfers       *prometheus.CounterVec
	Swaps           *prometheus.CounterVec
	Quotes          *prometheus.CounterVec
	BalanceRefresh  *prometheus.CounterVec
	Confirmations   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
}

// New registers wallet metrics with reg
func New(reg prometheus.Registerer) *Wallet {
	factory := promauto.With(reg)

	return &Wallet{
		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_transfers_total",
			Help: "Total number of submitted transfers by outcome",
		}, []string{"outcome"}),
		Swaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_swaps_total",
			Help: "Total number of swap executions by outcome",
		}, []string{"outcome"}),
		Quotes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_quotes_total",
			Help: "Total number of aggregator quotes by kind and outcome",
		}, []string{"kind", "outcome"}),
		BalanceRefresh: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_balance_refresh_total",
			Help: "Total number of balance refreshes by outcome",
		}, []string{"outcome"}),
		Confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_tx_confirmations_total",
			Help: "Total number of tracked transactions by final status",
		}, []string{"status"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_provider_latency_seconds",
			Help:    "Latency of upstream provider calls",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "op"}),
	}
}

// Outcome maps an error to a metric label
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// IncTransfer counts a transfer submission
func (m *Wallet) IncTransfer(err error) {
	if m != nil {
		m.Transfers.WithLabelValues(Outcome(err)).Inc()
	}
}

// IncSwap counts a swap execution
func (m *Wallet) IncSwap(err error) {
	if m != nil {
		m.Swaps.WithLabelValues(Outcome(err)).Inc()
	}
}

// IncQuote counts an aggregator quote
func (m *Wallet) IncQuote(kind string, err error) {
	if m != nil {
		m.Quotes.WithLabelValues(kind, Outcome(err)).Inc()
	}
}

// IncBalanceRefresh counts a balance refresh
func (m *Wallet) IncBalanceRefresh(err error) {
	if m != nil {
		m.BalanceRefresh.WithLabelValues(Outcome(err)).Inc()
	}
}

// IncConfirmation counts a transaction reaching status
func (m *Wallet) IncConfirmation(status string) {
	if m != nil {
		m.Confirmations.WithLabelValues(status).Inc()
	}
}

// ObserveProvider records the latency of a provider call started at start
func (m *Wallet) ObserveProvider(provider, op string, start time.Time) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
	}
}
