package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"price_stream/internal/domain"

	"github.com/shopspring/decimal"
)

const defaultBaseCurrency = "USD"

// Options tunes the lookup path.
type Options struct {
	Window time.Duration
	// BaseCurrency is the currency prices are quoted in before conversion.
	BaseCurrency string
	// ZeroOnMissingPrice converts a missing price to 0 instead of failing the fiat lookup.
	ZeroOnMissingPrice bool
}

// PriceService answers point-in-time price lookups. It holds no mutable state and
// shares nothing with the broadcast loops beyond the read-only source.
type PriceService struct {
	source        domain.PriceSource
	rates         domain.RateSource
	resolver      domain.SymbolResolver
	window        time.Duration
	base          string
	zeroOnMissing bool
}

// NewPriceService creates a new PriceService instance
func NewPriceService(source domain.PriceSource, rates domain.RateSource, resolver domain.SymbolResolver, opts Options) *PriceService {
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	if opts.BaseCurrency == "" {
		opts.BaseCurrency = defaultBaseCurrency
	}
	return &PriceService{
		source:        source,
		rates:         rates,
		resolver:      resolver,
		window:        opts.Window,
		base:          strings.ToUpper(opts.BaseCurrency),
		zeroOnMissing: opts.ZeroOnMissingPrice,
	}
}

// Window returns the trailing window used for lookups.
func (s *PriceService) Window() time.Duration {
	return s.window
}

// LastPrice resolves token and returns the latest snapshot for it.
func (s *PriceService) LastPrice(ctx context.Context, token string) (domain.PriceSnapshot, error) {
	canonical, ok := s.resolver.Resolve(token)
	if !ok {
		return domain.PriceSnapshot{}, &domain.ResolutionError{Token: token, Kind: "ticker"}
	}
	return s.lastPrice(ctx, canonical)
}

func (s *PriceService) lastPrice(ctx context.Context, canonical string) (domain.PriceSnapshot, error) {
	p, err := s.source.LastPrice(ctx, canonical, s.window)
	if err != nil {
		return domain.PriceSnapshot{}, err
	}
	return domain.NewSnapshot(p, s.window), nil
}

// FiatPrice converts the latest price of token into fiatToken using the base-currency rate.
func (s *PriceService) FiatPrice(ctx context.Context, token, fiatToken string) (domain.ConversionResult, error) {
	canonical, ok := s.resolver.Resolve(token)
	if !ok {
		return domain.ConversionResult{}, &domain.ResolutionError{Token: token, Kind: "ticker"}
	}
	currency, ok := s.resolver.ResolveFiat(fiatToken)
	if !ok {
		return domain.ConversionResult{}, &domain.ResolutionError{Token: fiatToken, Kind: "fiat"}
	}

	rate, err := s.rates.Rate(ctx, s.base, currency)
	if err != nil {
		return domain.ConversionResult{}, err
	}

	price := decimal.Zero
	var observed *time.Time
	p, err := s.source.LastPrice(ctx, canonical, s.window)
	switch {
	case err == nil:
		price = decimal.NewFromFloat(p.Price)
		t := p.Time
		observed = &t
	case s.zeroOnMissing && errors.Is(err, domain.ErrNoData):
	default:
		return domain.ConversionResult{}, err
	}

	converted, _ := price.Mul(rate).Float64()
	rateValue, _ := rate.Float64()
	return domain.ConversionResult{
		Symbol:   canonical,
		Price:    converted,
		Rate:     rateValue,
		Currency: strings.ToLower(currency),
		Time:     observed,
	}, nil
}
