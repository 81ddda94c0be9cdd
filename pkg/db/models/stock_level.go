package models

import (
	"time"

	"github.com/google/uuid"
)

// StockLevel tracks on-hand and reserved quantities for one
// (location, sku, variant) row. Rows are created lazily on first mutation
// and never deleted. VariantID is the empty string for variant-less SKUs so
// the composite unique index stays total.
type StockLevel struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	LocationID uuid.UUID `gorm:"column:location_id;type:uuid;not null;uniqueIndex:ux_stock_levels_row,priority:1"`
	SKU        string    `gorm:"column:sku;not null;uniqueIndex:ux_stock_levels_row,priority:2"`
	VariantID  string    `gorm:"column:variant_id;not null;default:'';uniqueIndex:ux_stock_levels_row,priority:3"`
	OnHand     int       `gorm:"column:on_hand;not null;default:0"`
	Reserved   int       `gorm:"column:reserved;not null;default:0"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Available is the quantity safe to promise to a new request.
func (s StockLevel) Available() int {
	return s.OnHand - s.Reserved
}
