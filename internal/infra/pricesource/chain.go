package pricesource

import (
	"time"

	"price_stream/internal/domain"
	"price_stream/internal/infra"
)

// ChainOptions selects which decorators Wrap applies.
type ChainOptions struct {
	Coalesce     bool
	QueryTimeout time.Duration
	Breaker      *BreakerSettings
}

// Wrap layers decorators around a backend, innermost first: metrics, breaker, coalescing.
// The returned breaker is nil when no breaker was requested.
func Wrap(name string, backend domain.PriceSource, opts ChainOptions, metrics *infra.Metrics) (domain.PriceSource, *Breaker) {
	var src domain.PriceSource = NewInstrumented(name, backend, metrics)

	var breaker *Breaker
	if opts.Breaker != nil {
		breaker = NewBreaker(name, src, *opts.Breaker, metrics)
		src = breaker
	}
	if opts.Coalesce {
		src = NewCoalescing(src, opts.QueryTimeout)
	}
	return src, breaker
}
