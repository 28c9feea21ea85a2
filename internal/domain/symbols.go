package domain

import (
	"sort"
	"strings"
)

// Short tokens clients send, mapped to canonical instrument ids.
var defaultTickers = map[string]string{
	"btc":  "BTCUSDT",
	"eth":  "ETHUSDT",
	"usdt": "USDTUSD",
	"usdc": "USDCUSD",
}

// Canonical ids the backend stores. Sending one of these resolves to itself.
var canonicalTickers = []string{
	"BTCUSDC",
	"BTCUSDT",
	"BTCEUR",
	"ETHUSDT",
	"ETHUSDC",
	"ETHEUR",
	"USDTUSD",
	"USDCUSD",
}

var defaultFiats = []string{"USD", "EUR", "GBP", "JPY", "CHF", "CNY", "CAD", "AUD", "AED"}

// StaticResolver resolves tokens against fixed tables. It is immutable after construction
// and safe for concurrent use.
type StaticResolver struct {
	tickers   map[string]string
	canonical map[string]struct{}
	fiats     map[string]string
}

// NewStaticResolver builds a resolver from the built-in tables plus extra aliases.
// Alias keys are matched case-insensitively; alias values are upper-cased and become canonical.
func NewStaticResolver(aliases map[string]string) *StaticResolver {
	r := &StaticResolver{
		tickers:   make(map[string]string, len(defaultTickers)+len(aliases)),
		canonical: make(map[string]struct{}, len(canonicalTickers)),
		fiats:     make(map[string]string, len(defaultFiats)),
	}
	for token, symbol := range defaultTickers {
		r.tickers[token] = symbol
	}
	for _, symbol := range canonicalTickers {
		r.canonical[symbol] = struct{}{}
	}
	for token, symbol := range aliases {
		token = normalizeToken(token)
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if token == "" || symbol == "" {
			continue
		}
		r.tickers[token] = symbol
		r.canonical[symbol] = struct{}{}
	}
	for _, code := range defaultFiats {
		r.fiats[strings.ToLower(code)] = code
	}
	return r
}

// DefaultResolver returns a resolver over the built-in tables only.
func DefaultResolver() *StaticResolver {
	return NewStaticResolver(nil)
}

// Resolve maps a ticker token ("btc") or a canonical id ("btcusdt") to its canonical id.
func (r *StaticResolver) Resolve(token string) (string, bool) {
	t := normalizeToken(token)
	if t == "" {
		return "", false
	}
	if symbol, ok := r.tickers[t]; ok {
		return symbol, true
	}
	if upper := strings.ToUpper(t); r.IsCanonical(upper) {
		return upper, true
	}
	return "", false
}

// ResolveFiat maps a fiat token ("eur") to its currency code ("EUR").
func (r *StaticResolver) ResolveFiat(token string) (string, bool) {
	code, ok := r.fiats[normalizeToken(token)]
	return code, ok
}

// IsCanonical reports whether symbol is already a canonical id.
func (r *StaticResolver) IsCanonical(symbol string) bool {
	_, ok := r.canonical[symbol]
	return ok
}

// BaseAssets returns the short ticker tokens in sorted order.
func (r *StaticResolver) BaseAssets() []string {
	out := make([]string, 0, len(r.tickers))
	for token := range r.tickers {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Symbols returns every canonical id in sorted order.
func (r *StaticResolver) Symbols() []string {
	out := make([]string, 0, len(r.canonical))
	for symbol := range r.canonical {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func normalizeToken(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}
