package pricesource

import (
	"context"
	"time"

	"price_stream/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Coalescing collapses concurrent queries for the same symbol and window into one
// backend call. With many sessions bound to one symbol, each tick costs a single query.
type Coalescing struct {
	next    domain.PriceSource
	group   singleflight.Group
	timeout time.Duration
}

var _ domain.PriceSource = (*Coalescing)(nil)

// NewCoalescing wraps next. timeout bounds the shared call, which outlives any single caller.
func NewCoalescing(next domain.PriceSource, timeout time.Duration) *Coalescing {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Coalescing{next: next, timeout: timeout}
}

func (c *Coalescing) LastPrice(ctx context.Context, symbol string, window time.Duration) (domain.PricePoint, error) {
	key := symbol + "|" + window.String()
	ch := c.group.DoChan(key, func() (any, error) {
		// Detached so one caller cancelling does not fail the others sharing the call.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.next.LastPrice(callCtx, symbol, window)
	})

	select {
	case <-ctx.Done():
		return domain.PricePoint{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.PricePoint{}, res.Err
		}
		return res.Val.(domain.PricePoint), nil
	}
}
