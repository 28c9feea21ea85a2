package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"price_stream/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sourceName = "sqlite"

// Storage is the SQLite-backed price store and coin metadata repository
type Storage struct {
	db    *gorm.DB
	clock clockwork.Clock
}

var (
	_ domain.PriceSource = (*Storage)(nil)
	_ domain.PointWriter = (*Storage)(nil)
)

// NewStorage creates a new SQLite storage instance at dbPath
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go). Writers from ingest and asset sync wait on the lock.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db, clockwork.NewRealClock())
}

func newStorage(db *gorm.DB, clock clockwork.Clock) (*Storage, error) {
	// Auto Migration
	if err := db.AutoMigrate(&domain.PricePoint{}, &domain.CoinInfo{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db, clock: clock}, nil
}

// Close releases the underlying connection pool
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Price Operations
// ======================================================================================

// LastPrice returns the newest point for symbol observed within window
func (s *Storage) LastPrice(ctx context.Context, symbol string, window time.Duration) (domain.PricePoint, error) {
	var p domain.PricePoint
	since := s.clock.Now().Add(-window).UTC()
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND time >= ?", symbol, since).
		Order("time desc").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.PricePoint{}, &domain.NoDataError{Symbol: symbol}
	}
	if err != nil {
		return domain.PricePoint{}, domain.NewSourceError(sourceName, "query", err)
	}
	return p, nil
}

// WritePoint appends a price observation
func (s *Storage) WritePoint(ctx context.Context, p domain.PricePoint) error {
	p.ID = 0
	if p.Time.IsZero() {
		p.Time = s.clock.Now()
	}
	// Times are stored as text; a single zone keeps range filters ordered.
	p.Time = p.Time.UTC()
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return domain.NewSourceError(sourceName, "write", err)
	}
	return nil
}

// Prune deletes points older than before and returns how many were removed
func (s *Storage) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("time < ?", before.UTC()).Delete(&domain.PricePoint{})
	if res.Error != nil {
		return 0, domain.NewSourceError(sourceName, "prune", res.Error)
	}
	return res.RowsAffected, nil
}

// ======================================================================================
// Coin Operations
// ======================================================================================

// UpsertCoin creates or updates coin metadata
func (s *Storage) UpsertCoin(coin *domain.CoinInfo) error {
	return s.db.Save(coin).Error
}

// GetCoin retrieves coin metadata by symbol
func (s *Storage) GetCoin(symbol string) (*domain.CoinInfo, error) {
	var coin domain.CoinInfo
	err := s.db.First(&coin, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &coin, err
}

// GetActiveCoins retrieves coins that should be served
func (s *Storage) GetActiveCoins() ([]domain.CoinInfo, error) {
	var coins []domain.CoinInfo
	err := s.db.Where("is_active = ?", true).Order("symbol").Find(&coins).Error
	return coins, err
}

// DeleteCoin deletes a coin from the database
func (s *Storage) DeleteCoin(symbol string) error {
	return s.db.Where("symbol = ?", symbol).Delete(&domain.CoinInfo{}).Error
}
