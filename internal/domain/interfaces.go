package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource returns the most recent point for a canonical symbol within a trailing window.
// Implementations return an error matching ErrNoData when the window is empty and a
// *SourceError when the backend itself fails.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string, window time.Duration) (PricePoint, error)
}

// PointWriter appends observed prices to a store that a PriceSource reads back.
type PointWriter interface {
	WritePoint(ctx context.Context, p PricePoint) error
}

// RateSource returns the multiplier converting one unit of base into quote.
type RateSource interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// SymbolResolver maps user-facing tokens to canonical identifiers.
type SymbolResolver interface {
	Resolve(token string) (string, bool)
	ResolveFiat(token string) (string, bool)
}

// ExchangeWorker defines the interface for exchange WebSocket connectors
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}
