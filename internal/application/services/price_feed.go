package services

import (
	"context"
	"sync"

	"github.com/bimakw/chain-wallet/internal/domain/entities"
)

// PriceUpdate is an indicative price delivered by a PriceFeed
type PriceUpdate struct {
	Generation uint64
	Intent     entities.SwapIntent
	Quote      *entities.Quote
	Err        error
}

// PriceFeed follows an edited swap intent with indicative prices. Every
// Update cancels the request of the previous one; responses that arrive
// after a newer Update or after Close are dropped.
type PriceFeed struct {
	swaps   *SwapService
	updates chan PriceUpdate

	mu         sync.Mutex
	ctx        context.Context
	stop       context.CancelFunc
	cancel     context.CancelFunc
	generation uint64
	closed     bool
	wg         sync.WaitGroup
}

// NewPriceFeed creates a feed bound to ctx. Cancelling ctx has the same
// effect on requests as Close, but the caller must still Close the feed.
func (s *SwapService) NewPriceFeed(ctx context.Context) *PriceFeed {
	ctx, stop := context.WithCancel(ctx)
	return &PriceFeed{
		swaps:   s,
		updates: make(chan PriceUpdate, 1),
		ctx:     ctx,
		stop:    stop,
	}
}

// Updates delivers the newest price. Only the latest undelivered update is
// kept. The channel is closed by Close.
func (f *PriceFeed) Updates() <-chan PriceUpdate {
	return f.updates
}

// Update requests a price for intent and returns its generation. Intents
// that fail local validation are reported without a request.
func (f *PriceFeed) Update(intent entities.SwapIntent) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.generation
	}
	if f.cancel != nil {
		f.cancel()
	}
	f.generation++
	gen := f.generation

	if _, err := intent.Validate(); err != nil {
		f.cancel = nil
		offer(f.updates, PriceUpdate{Generation: gen, Intent: intent, Err: err})
		return gen
	}

	ctx, cancel := context.WithCancel(f.ctx)
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()

		quote, err := f.swaps.IndicativePrice(ctx, intent)
		f.deliver(PriceUpdate{Generation: gen, Intent: intent, Quote: quote, Err: err})
	}()
	return gen
}

// deliver publishes update unless a newer generation exists or the feed
// is closed
func (f *PriceFeed) deliver(update PriceUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || update.Generation != f.generation || f.ctx.Err() != nil {
		return
	}
	offer(f.updates, update)
}

// Close cancels the in-flight request, waits for it to return and closes
// the updates channel
func (f *PriceFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.stop()
	f.mu.Unlock()

	f.wg.Wait()
	close(f.updates)
}
