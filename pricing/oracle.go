// Package pricing converts base-asset amounts to a fiat display value.
package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/metrics"
)

// DefaultQuote is used until the first successful refresh.
var DefaultQuote = decimal.NewFromInt(2000)

// Oracle caches the last good quote. Refresh failures never clear it.
type Oracle struct {
	mu        sync.RWMutex
	quote     decimal.Decimal
	source    QuoteSource
	listeners []func(decimal.Decimal)

	logger  logger.Logger
	metrics metrics.Recorder

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOracle(source QuoteSource, initial decimal.Decimal, l logger.Logger, m metrics.Recorder) *Oracle {
	if !initial.IsPositive() {
		initial = DefaultQuote
	}
	return &Oracle{
		quote:   initial,
		source:  source,
		logger:  logger.OrNoop(l),
		metrics: metrics.OrNoop(m),
	}
}

// Refresh fetches a new quote. On any failure the previous quote stays in place.
func (o *Oracle) Refresh(ctx context.Context) {
	start := time.Now()
	price, err := o.source.FetchQuote(ctx)
	if err != nil {
		o.logger.Warn("price quote refresh failed", map[string]any{
			"error":    err,
			"fallback": o.Quote().String(),
		})
		o.metrics.IncCounter(metrics.EventQuoteFetch, map[string]string{"outcome": metrics.OutcomeFailed})
		o.metrics.ObserveLatency(metrics.EventQuoteFetch, time.Since(start), map[string]string{"outcome": metrics.OutcomeFailed})
		return
	}

	o.mu.Lock()
	old := o.quote
	o.quote = price
	listeners := append(([]func(decimal.Decimal))(nil), o.listeners...)
	o.mu.Unlock()

	o.metrics.IncCounter(metrics.EventQuoteFetch, map[string]string{"outcome": metrics.OutcomeSuccess})
	o.metrics.ObserveLatency(metrics.EventQuoteFetch, time.Since(start), map[string]string{"outcome": metrics.OutcomeSuccess})

	if old.Equal(price) {
		return
	}
	o.logger.Info("price quote updated", map[string]any{"quote": price.String(), "previous": old.String()})
	for _, fn := range listeners {
		fn(price)
	}
}

// Quote returns the cached fiat price of one base unit.
func (o *Oracle) Quote() decimal.Decimal {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.quote
}

// ToFiat renders amount at the cached quote with two decimals.
func (o *Oracle) ToFiat(amount decimal.Decimal) string {
	return amount.Mul(o.Quote()).StringFixed(2)
}

// OnChange registers fn to be called after each quote change.
func (o *Oracle) OnChange(fn func(decimal.Decimal)) {
	o.mu.Lock()
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Start refreshes once, then every interval until ctx is done or Stop is called.
// A non-positive interval only performs the initial refresh.
func (o *Oracle) Start(ctx context.Context, interval time.Duration) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.Refresh(ctx)
	if interval <= 0 {
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				o.logger.Debug("price polling stopped", nil)
				return
			case <-ticker.C:
				o.Refresh(ctx)
			}
		}
	}()
}

func (o *Oracle) Stop() {
	if o.cancel != nil {
		o.cancel()
		o.wg.Wait()
	}
}
