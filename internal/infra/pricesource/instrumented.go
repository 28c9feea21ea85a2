package pricesource

import (
	"context"
	"time"

	"price_stream/internal/domain"
	"price_stream/internal/infra"
)

// Instrumented counts queries by outcome.
type Instrumented struct {
	name    string
	next    domain.PriceSource
	metrics *infra.Metrics
}

var _ domain.PriceSource = (*Instrumented)(nil)

func NewInstrumented(name string, next domain.PriceSource, metrics *infra.Metrics) *Instrumented {
	return &Instrumented{name: name, next: next, metrics: metrics}
}

func (i *Instrumented) LastPrice(ctx context.Context, symbol string, window time.Duration) (domain.PricePoint, error) {
	p, err := i.next.LastPrice(ctx, symbol, window)
	result := domain.ErrorKind(err)
	if result == "none" {
		result = "ok"
	}
	i.metrics.RecordSourceQuery(i.name, result)
	return p, err
}
