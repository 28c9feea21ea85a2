package domain

import (
	"time"
)

// PricePoint is one observation of a symbol's price.
type PricePoint struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	Symbol         string    `gorm:"index:idx_symbol_time,priority:1;not null" json:"symbol"`
	Price          float64   `json:"price"`
	LastUpdateTime string    `json:"lastUpdateTime,omitempty"` // Upstream update stamp, when the feed has one
	Time           time.Time `gorm:"index:idx_symbol_time,priority:2" json:"time"`
}

// CoinInfo represents metadata for a base asset served by the API
type CoinInfo struct {
	Symbol       string    `gorm:"primaryKey" json:"symbol"`
	Name         string    `json:"name"`
	IconPath     string    `json:"icon_path"`
	IsActive     bool      `json:"is_active" gorm:"index"`
	LastSyncedAt time.Time `json:"last_synced_at"` // Last icon sync time
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
