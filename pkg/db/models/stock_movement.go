package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/pkg/enums"
)

// StockMovement is an append-only audit record for a committed ledger
// mutation. Quantity carries the sign of the on-hand or reserved delta.
type StockMovement struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	LocationID  uuid.UUID          `gorm:"column:location_id;type:uuid;not null;index:ix_stock_movements_location"`
	SKU         string             `gorm:"column:sku;not null"`
	VariantID   string             `gorm:"column:variant_id;not null;default:''"`
	Kind        enums.MovementKind `gorm:"column:kind;not null"`
	Quantity    int                `gorm:"column:quantity;not null"`
	Reason      string             `gorm:"column:reason"`
	Reference   string             `gorm:"column:reference;index:ix_stock_movements_reference"`
	ActorUserID uuid.UUID          `gorm:"column:actor_user_id;type:uuid"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
}
