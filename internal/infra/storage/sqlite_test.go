package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"price_stream/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*Storage, *clockwork.FakeClock) {
	dbName := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	clock := clockwork.NewFakeClockAt(testNow)
	s, err := newStorage(db, clock)
	if err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s, clock
}

func TestLastPrice(t *testing.T) {
	s, _ := setupTestDB(t)
	ctx := context.Background()

	points := []domain.PricePoint{
		{Symbol: "BTCUSDT", Price: 64000, Time: testNow.Add(-8 * time.Second)},
		{Symbol: "BTCUSDT", Price: 65000, Time: testNow.Add(-2 * time.Second), LastUpdateTime: "1704110398000"},
		{Symbol: "ETHUSDT", Price: 3500, Time: testNow.Add(-1 * time.Second)},
	}
	for _, p := range points {
		if err := s.WritePoint(ctx, p); err != nil {
			t.Fatalf("WritePoint failed: %v", err)
		}
	}

	got, err := s.LastPrice(ctx, "BTCUSDT", 10*time.Second)
	if err != nil {
		t.Fatalf("LastPrice failed: %v", err)
	}
	if got.Price != 65000 {
		t.Errorf("expected 65000, got %v", got.Price)
	}
	if got.LastUpdateTime != "1704110398000" {
		t.Errorf("expected lastUpdateTime to round-trip, got %q", got.LastUpdateTime)
	}
	if !got.Time.Equal(testNow.Add(-2 * time.Second)) {
		t.Errorf("unexpected time %v", got.Time)
	}
}

func TestLastPrice_OutsideWindow(t *testing.T) {
	s, clock := setupTestDB(t)
	ctx := context.Background()

	if err := s.WritePoint(ctx, domain.PricePoint{Symbol: "BTCUSDT", Price: 65000, Time: testNow}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Second)

	_, err := s.LastPrice(ctx, "BTCUSDT", 10*time.Second)
	if !errors.Is(err, domain.ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}

	_, err = s.LastPrice(ctx, "DOGEUSDT", time.Hour)
	if !errors.Is(err, domain.ErrNoData) {
		t.Errorf("expected ErrNoData for unknown symbol, got %v", err)
	}
}

func TestWritePoint_DefaultsTime(t *testing.T) {
	s, _ := setupTestDB(t)
	ctx := context.Background()

	if err := s.WritePoint(ctx, domain.PricePoint{Symbol: "ETHUSDT", Price: 3500}); err != nil {
		t.Fatal(err)
	}

	got, err := s.LastPrice(ctx, "ETHUSDT", time.Second)
	if err != nil {
		t.Fatalf("LastPrice failed: %v", err)
	}
	if !got.Time.Equal(testNow) {
		t.Errorf("expected clock time, got %v", got.Time)
	}
}

func TestPrune(t *testing.T) {
	s, _ := setupTestDB(t)
	ctx := context.Background()

	s.WritePoint(ctx, domain.PricePoint{Symbol: "BTCUSDT", Price: 1, Time: testNow.Add(-2 * time.Hour)})
	s.WritePoint(ctx, domain.PricePoint{Symbol: "BTCUSDT", Price: 2, Time: testNow})

	n, err := s.Prune(ctx, testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned row, got %d", n)
	}
}

func TestUpsertAndGetCoin(t *testing.T) {
	s, _ := setupTestDB(t)

	coin := &domain.CoinInfo{
		Symbol:    "BTC",
		Name:      "Bitcoin",
		IsActive:  true,
		UpdatedAt: time.Now(),
	}

	// 1. Create
	if err := s.UpsertCoin(coin); err != nil {
		t.Fatalf("UpsertCoin failed: %v", err)
	}

	// 2. Get
	fetched, err := s.GetCoin("BTC")
	if err != nil {
		t.Fatalf("GetCoin failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched coin is nil")
	}
	if fetched.Symbol != "BTC" {
		t.Errorf("expected symbol BTC, got %s", fetched.Symbol)
	}
}

func TestUpdateCoin(t *testing.T) {
	s, _ := setupTestDB(t)
	coin := &domain.CoinInfo{Symbol: "UPDATE", Name: "Before"}
	s.UpsertCoin(coin)

	// Update
	coin.Name = "After"
	if err := s.UpsertCoin(coin); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fetched, _ := s.GetCoin("UPDATE")
	if fetched.Name != "After" {
		t.Errorf("expected name 'After', got '%s'", fetched.Name)
	}
}

func TestDeleteCoin(t *testing.T) {
	s, _ := setupTestDB(t)
	coin := &domain.CoinInfo{Symbol: "DEL", Name: "Delete Me"}
	s.UpsertCoin(coin)

	// Delete
	if err := s.DeleteCoin("DEL"); err != nil {
		t.Fatalf("DeleteCoin failed: %v", err)
	}

	// Verify
	fetched, err := s.GetCoin("DEL")
	if err != nil {
		t.Fatalf("GetCoin after delete failed: %v", err)
	}
	if fetched != nil {
		t.Error("expected coin to be deleted, but found record")
	}
}

func TestGetActiveCoins(t *testing.T) {
	s, _ := setupTestDB(t)
	s.UpsertCoin(&domain.CoinInfo{Symbol: "ETH", IsActive: true})
	s.UpsertCoin(&domain.CoinInfo{Symbol: "BTC", IsActive: true})
	s.UpsertCoin(&domain.CoinInfo{Symbol: "OLD", IsActive: false})

	coins, err := s.GetActiveCoins()
	if err != nil {
		t.Fatal(err)
	}
	if len(coins) != 2 || coins[0].Symbol != "BTC" {
		t.Errorf("unexpected active coins: %+v", coins)
	}
}
