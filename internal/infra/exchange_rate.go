package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"price_stream/internal/domain"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	rateSourceName = "exchange_rate"

	// Bounds a shared on-demand fetch, which outlives any single caller.
	rateFetchTimeout = 30 * time.Second
)

// erAPIResponse represents the open.er-api.com latest-rates response
type erAPIResponse struct {
	Result             string                     `json:"result"`
	ErrorType          string                     `json:"error-type"`
	BaseCode           string                     `json:"base_code"`
	TimeLastUpdateUnix int64                      `json:"time_last_update_unix"`
	Rates              map[string]decimal.Decimal `json:"rates"`
}

type rateTable struct {
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

// ExchangeRateClient keeps conversion tables per base currency. The configured base is
// polled in the background; other bases are fetched on demand and cached for ttl.
type ExchangeRateClient struct {
	onUpdate     func(base string, rates map[string]decimal.Decimal)
	base         string
	tables       map[string]rateTable
	mu           sync.RWMutex
	pollInterval time.Duration
	ttl          time.Duration
	retryDelay   time.Duration
	apiURL       string
	httpClient   *http.Client
	clock        clockwork.Clock
	metrics      *Metrics
	group        singleflight.Group
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewExchangeRateClient creates a new exchange rate client
func NewExchangeRateClient(base string, onUpdate func(string, map[string]decimal.Decimal)) *ExchangeRateClient {
	if base == "" {
		base = "USD"
	}
	return &ExchangeRateClient{
		onUpdate:     onUpdate,
		base:         strings.ToUpper(base),
		tables:       make(map[string]rateTable),
		pollInterval: time.Hour, // upstream refreshes daily
		ttl:          2 * time.Hour,
		retryDelay:   time.Second,
		apiURL:       "https://open.er-api.com/v6/latest",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		clock: clockwork.NewRealClock(),
	}
}

// NewExchangeRateClientWithConfig creates a client with custom configuration
func NewExchangeRateClientWithConfig(cfg *Config, metrics *Metrics) *ExchangeRateClient {
	client := NewExchangeRateClient(cfg.ExchangeRate.Base, nil)
	if cfg.ExchangeRate.URL != "" {
		client.apiURL = strings.TrimRight(cfg.ExchangeRate.URL, "/")
	}
	if cfg.ExchangeRate.PollIntervalSec > 0 {
		client.pollInterval = time.Duration(cfg.ExchangeRate.PollIntervalSec) * time.Second
	}
	if cfg.ExchangeRate.TTL > 0 {
		client.ttl = cfg.ExchangeRate.TTL
	}
	client.metrics = metrics
	return client
}

// Start begins polling for exchange rate updates
func (c *ExchangeRateClient) Start(ctx context.Context) error {
	// Create a cancellable context
	ctx, c.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	if err := c.fetchRate(ctx, c.base); err != nil {
		slog.Warn("Initial exchange rate fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	// Start polling goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Exchange rate polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := c.clock.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Exchange rate polling stopped")
				return
			case <-ticker.Chan():
				if err := c.fetchRate(ctx, c.base); err != nil {
					slog.Warn("Exchange rate fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// Stop stops the polling
func (c *ExchangeRateClient) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// Rate returns how many units of quote one unit of base buys.
func (c *ExchangeRateClient) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	table, ok := c.table(base)
	if !ok || c.stale(table) {
		// Concurrent lookups for the same base share one request.
		// The fetch runs detached so one caller's cancellation does not fail the others.
		ch := c.group.DoChan(base, func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rateFetchTimeout)
			defer cancel()
			return nil, c.fetchRate(fetchCtx, base)
		})
		var err error
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case res := <-ch:
			err = res.Err
		}
		if err != nil && !ok {
			return decimal.Zero, err
		}
		if err != nil {
			slog.Warn("Serving stale exchange rates", slog.String("base", base), slog.Any("error", err))
		}
		table, _ = c.table(base)
	}

	rate, ok := table.rates[quote]
	if !ok {
		return decimal.Zero, &domain.ResolutionError{Token: quote, Kind: "fiat"}
	}
	return rate, nil
}

// LastUpdated returns when the polled base table was last refreshed.
func (c *ExchangeRateClient) LastUpdated() time.Time {
	t, _ := c.table(c.base)
	return t.fetchedAt
}

// Fresh reports whether the polled base table is present and within ttl.
func (c *ExchangeRateClient) Fresh() bool {
	t, ok := c.table(c.base)
	return ok && !c.stale(t)
}

func (c *ExchangeRateClient) table(base string) (rateTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[base]
	return t, ok
}

func (c *ExchangeRateClient) stale(t rateTable) bool {
	return c.clock.Since(t.fetchedAt) > c.ttl
}

// fetchRate fetches the rates table for base with retry logic
func (c *ExchangeRateClient) fetchRate(ctx context.Context, base string) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s, 4s
			delay := c.retryDelay * time.Duration(1<<uint(i-1))
			slog.Info("Retrying exchange rate fetch", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(delay):
			}
		}

		err := c.doFetch(ctx, base)
		if err == nil {
			return nil
		}
		lastErr = err
		c.metrics.RecordRateFetchFailure()
		slog.Warn("Exchange rate fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
		if !domain.IsRetriable(err) {
			break
		}
	}
	return lastErr
}

func (c *ExchangeRateClient) doFetch(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/"+base, nil)
	if err != nil {
		return domain.NewFatalSourceError(rateSourceName, "request", err)
	}

	// Add browser-like User-Agent to avoid bot detection
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewSourceError(rateSourceName, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return domain.NewSourceError(rateSourceName, "fetch", statusErr)
		}
		return domain.NewFatalSourceError(rateSourceName, "fetch", statusErr)
	}

	var data erAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return domain.NewFatalSourceError(rateSourceName, "decode", err)
	}

	if data.Result != "success" {
		errType := data.ErrorType
		if errType == "" {
			errType = "Unknown error"
		}
		return domain.NewFatalSourceError(rateSourceName, "fetch", errors.New("API error: "+errType))
	}
	if len(data.Rates) == 0 {
		return domain.NewFatalSourceError(rateSourceName, "fetch", errors.New("empty rates table"))
	}

	c.mu.Lock()
	c.tables[base] = rateTable{rates: data.Rates, fetchedAt: c.clock.Now()}
	c.mu.Unlock()

	slog.Debug("Exchange rates updated",
		slog.String("base", base),
		slog.Int("currencies", len(data.Rates)),
	)
	if c.onUpdate != nil {
		c.onUpdate(base, data.Rates)
	}

	return nil
}
