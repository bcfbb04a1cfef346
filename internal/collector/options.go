package collector

import (
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"token-collector/internal/interfaces"
	"token-collector/internal/metrics"
)

// DefaultAuthorizationThreshold is 2^255: an allowance at least this large is
// treated as effectively unlimited, so a MaxUint256 approval always passes.
var DefaultAuthorizationThreshold = new(big.Int).Lsh(big.NewInt(1), 255)

type Option func(*Collector)

// WithAuthorizationThreshold sets the minimum allowance required to register
func WithAuthorizationThreshold(threshold *big.Int) Option {
	return func(c *Collector) {
		if threshold != nil && threshold.Sign() > 0 {
			c.threshold = new(big.Int).Set(threshold)
		}
	}
}

func WithStore(store interfaces.Store) Option {
	return func(c *Collector) {
		c.store = store
	}
}

func WithEmitter(emitter interfaces.EventEmitter) Option {
	return func(c *Collector) {
		c.emitter = emitter
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) {
		c.metrics = m
	}
}

// WithClock overrides time.Now for event and receipt timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}
