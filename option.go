package coffee

import (
	"time"

	"github.com/vitwit/coffee/clients"
	"github.com/vitwit/coffee/logger"
	"github.com/vitwit/coffee/metrics"
	"github.com/vitwit/coffee/pricing"
	"github.com/vitwit/coffee/storage"
)

type Option func(*Coffee)

func WithLogger(l logger.Logger) Option {
	return func(c *Coffee) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coffee) {
		c.metrics = r
	}
}

// WithTimeout bounds wallet round-trips such as Connect and balance reads.
func WithTimeout(t time.Duration) Option {
	return func(c *Coffee) {
		c.timeout = t
	}
}

// WithProvider sets the wallet. Without it the app runs as if no wallet were installed.
func WithProvider(p clients.Provider) Option {
	return func(c *Coffee) {
		c.provider = p
	}
}

// WithQuoteSource replaces the CoinGecko quote source.
func WithQuoteSource(s pricing.QuoteSource) Option {
	return func(c *Coffee) {
		c.quotes = s
	}
}

// WithLedger uses an already opened ledger instead of opening cfg.LedgerPath.
// The caller keeps ownership and closes it.
func WithLedger(l *storage.Ledger) Option {
	return func(c *Coffee) {
		c.ledger = l
	}
}
