package pricesource

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"price_stream/internal/domain"
	"price_stream/internal/infra"

	"github.com/sony/gobreaker"
)

// Breaker fails fast while the backend is unhealthy. Missing data and caller
// cancellation do not count as backend failures.
type Breaker struct {
	name    string
	next    domain.PriceSource
	cb      *gobreaker.CircuitBreaker
	metrics *infra.Metrics
}

var _ domain.PriceSource = (*Breaker)(nil)

// BreakerSettings configures when the circuit opens and how long it stays open.
type BreakerSettings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(name string, next domain.PriceSource, s BreakerSettings, metrics *infra.Metrics) *Breaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	b := &Breaker{name: name, next: next, metrics: metrics}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				slog.String("component", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			b.metrics.SetBreakerState(name, stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrNoData) ||
				errors.Is(err, context.Canceled)
		},
	})
	metrics.SetBreakerState(name, stateValue(gobreaker.StateClosed))
	return b
}

func (b *Breaker) LastPrice(ctx context.Context, symbol string, window time.Duration) (domain.PricePoint, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.LastPrice(ctx, symbol, window)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.PricePoint{}, domain.NewSourceError(b.name, "breaker", err)
	}
	if err != nil {
		return domain.PricePoint{}, err
	}
	return res.(domain.PricePoint), nil
}

// State returns the breaker state name: "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
