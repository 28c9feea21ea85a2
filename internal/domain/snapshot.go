package domain

import (
	"fmt"
	"time"
)

// PriceSnapshot is the payload pushed to clients every tick and returned by the lookup path.
// A snapshot either carries a price or an error, never both.
type PriceSnapshot struct {
	Symbol         string     `json:"symbol"`
	LastPrice      *float64   `json:"lastPrice,omitempty"`
	LastUpdateTime string     `json:"lastUpdateTime,omitempty"`
	Time           *time.Time `json:"time,omitempty"`
	Window         string     `json:"window"`
	Error          string     `json:"error,omitempty"`
}

// NewSnapshot builds a populated snapshot from a source point.
func NewSnapshot(p PricePoint, window time.Duration) PriceSnapshot {
	price := p.Price
	observed := p.Time
	return PriceSnapshot{
		Symbol:         p.Symbol,
		LastPrice:      &price,
		LastUpdateTime: p.LastUpdateTime,
		Time:           &observed,
		Window:         FormatWindow(window),
	}
}

// NewErrorSnapshot builds a snapshot describing the absence of data for symbol.
func NewErrorSnapshot(symbol string, window time.Duration, err error) PriceSnapshot {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return PriceSnapshot{
		Symbol: symbol,
		Window: FormatWindow(window),
		Error:  msg,
	}
}

// HasError reports whether the snapshot describes missing data.
func (s PriceSnapshot) HasError() bool {
	return s.Error != ""
}

// Price returns the last price and whether one is present.
func (s PriceSnapshot) Price() (float64, bool) {
	if s.LastPrice == nil {
		return 0, false
	}
	return *s.LastPrice, true
}

// BroadcastMessage wraps a snapshot with the peer it is delivered to.
type BroadcastMessage struct {
	Message string        `json:"message"`
	Data    PriceSnapshot `json:"data"`
}

// NewBroadcastMessage creates the per-tick message for one session.
func NewBroadcastMessage(peer string, snap PriceSnapshot) BroadcastMessage {
	return BroadcastMessage{
		Message: "Broadcast from IP: " + peer,
		Data:    snap,
	}
}

// ConversionResult is the fiat-converted price returned by the lookup path.
type ConversionResult struct {
	Symbol   string     `json:"symbol"`
	Price    float64    `json:"price"`
	Rate     float64    `json:"rate"`
	Currency string     `json:"currency"`
	Time     *time.Time `json:"time,omitempty"`
}

// FormatWindow renders a trailing window the way Flux durations are written ("10s", "5m", "24h").
func FormatWindow(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}
