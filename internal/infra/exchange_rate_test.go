package infra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"price_stream/internal/domain"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

const mockRatesBody = `{"result":"success","base_code":"USD","time_last_update_unix":1700000000,"rates":{"USD":1,"EUR":0.91,"GBP":0.79}}`

func newTestRateClient(url string) *ExchangeRateClient {
	c := NewExchangeRateClient("usd", nil)
	c.apiURL = url
	c.retryDelay = time.Millisecond
	return c
}

func TestExchangeRateClient_Rate(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(mockRatesBody))
	}))
	defer server.Close()

	client := newTestRateClient(server.URL)

	rate, err := client.Rate(context.Background(), "USD", "eur")
	if err != nil {
		t.Fatalf("Rate failed: %v", err)
	}
	if !rate.Equal(decimal.RequireFromString("0.91")) {
		t.Errorf("Expected 0.91, got %s", rate)
	}
	if got := path.Load(); got != "/USD" {
		t.Errorf("Expected request path /USD, got %v", got)
	}
}

func TestExchangeRateClient_SharedFetchSurvivesCallerCancel(t *testing.T) {
	var calls atomic.Int32
	hit := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		once.Do(func() { close(hit) })
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(mockRatesBody))
	}))
	defer server.Close()

	client := newTestRateClient(server.URL)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := client.Rate(ctxA, "USD", "EUR")
		errA <- err
	}()
	<-hit

	type result struct {
		rate decimal.Decimal
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		rate, err := client.Rate(context.Background(), "USD", "EUR")
		resB <- result{rate, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled for cancelled caller, got %v", err)
	}
	close(release)

	select {
	case res := <-resB:
		if res.err != nil {
			t.Fatalf("Second caller failed after first cancelled: %v", res.err)
		}
		if !res.rate.Equal(decimal.RequireFromString("0.91")) {
			t.Errorf("Expected 0.91, got %s", res.rate)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Second caller did not return")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Expected one shared request, got %d", got)
	}
}

func TestExchangeRateClient_SameCurrency(t *testing.T) {
	client := newTestRateClient("http://127.0.0.1:0")

	rate, err := client.Rate(context.Background(), "eur", "EUR")
	if err != nil {
		t.Fatalf("Same currency should not hit the network: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected 1, got %s", rate)
	}
}

func TestExchangeRateClient_MissingCurrency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mockRatesBody))
	}))
	defer server.Close()

	client := newTestRateClient(server.URL)

	_, err := client.Rate(context.Background(), "USD", "AED")
	if !errors.Is(err, domain.ErrSymbolNotFound) {
		t.Errorf("Expected ErrSymbolNotFound, got %v", err)
	}
}

func TestExchangeRateClient_APIError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"result":"error","error-type":"unsupported-code"}`))
	}))
	defer server.Close()

	client := newTestRateClient(server.URL)

	_, err := client.Rate(context.Background(), "XXX", "EUR")
	if err == nil {
		t.Fatal("API error should be returned")
	}
	var se *domain.SourceError
	if !errors.As(err, &se) || se.Retriable {
		t.Errorf("Expected fatal SourceError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Fatal errors should not be retried, got %d calls", calls.Load())
	}
}

func TestExchangeRateClient_RetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(mockRatesBody))
	}))
	defer server.Close()

	client := newTestRateClient(server.URL)

	// Should retry 2 times and succeed on 3rd
	if err := client.fetchRate(context.Background(), "USD"); err != nil {
		t.Fatalf("fetchRate should succeed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestExchangeRateClient_StaleTable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(mockRatesBody))
	}))
	defer server.Close()

	clock := clockwork.NewFakeClock()
	client := newTestRateClient(server.URL)
	client.clock = clock
	client.ttl = time.Minute

	ctx := context.Background()
	if _, err := client.Rate(ctx, "USD", "EUR"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Rate(ctx, "USD", "GBP"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Errorf("Fresh table should be reused, got %d calls", calls.Load())
	}
	if !client.Fresh() {
		t.Error("Expected fresh table")
	}

	clock.Advance(2 * time.Minute)
	if client.Fresh() {
		t.Error("Expected stale table after ttl")
	}
	if _, err := client.Rate(ctx, "USD", "EUR"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("Stale table should be refetched, got %d calls", calls.Load())
	}
}

func TestExchangeRateClient_StartStop(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(mockRatesBody))
	}))
	defer server.Close()

	updated := make(chan string, 1)
	client := newTestRateClient(server.URL)
	client.onUpdate = func(base string, _ map[string]decimal.Decimal) {
		select {
		case updated <- base:
		default:
		}
	}

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case base := <-updated:
		if base != "USD" {
			t.Errorf("Expected USD update, got %s", base)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for initial fetch")
	}

	if client.LastUpdated().IsZero() {
		t.Error("LastUpdated should be set after initial fetch")
	}

	// Stop should complete without hanging
	client.Stop()
}
