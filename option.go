package x402pay

import (
	"time"

	"github.com/vitwit/x402pay/logger"
	"github.com/vitwit/x402pay/metrics"
	"github.com/vitwit/x402pay/quote"
	"github.com/vitwit/x402pay/settlement"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

// WithTimeout overrides the confirmation timeout from the config.
func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(x *X402) {
		x.now = now
	}
}

func WithPriceTable(p quote.PriceTable) Option {
	return func(x *X402) {
		x.prices = p
	}
}

// WithGuard shares one in-flight guard between engines in the same process.
func WithGuard(g *settlement.InFlightGuard) Option {
	return func(x *X402) {
		x.guard = g
	}
}
