package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/pkg/enums"
)

// Transfer is the aggregate root for a stock movement order between two
// locations. Lines are owned by the transfer and mutated only through the
// workflow service.
type Transfer struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Code           string               `gorm:"column:code;not null;uniqueIndex:ux_transfers_code"`
	FromLocationID uuid.UUID            `gorm:"column:from_location_id;type:uuid;not null"`
	ToLocationID   uuid.UUID            `gorm:"column:to_location_id;type:uuid;not null"`
	Status         enums.TransferStatus `gorm:"column:status;not null"`
	CancelReason   *string              `gorm:"column:cancel_reason"`
	CreatedBy      uuid.UUID            `gorm:"column:created_by;type:uuid;not null"`
	UpdatedBy      uuid.UUID            `gorm:"column:updated_by;type:uuid;not null"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime;index:ix_transfers_created_at"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`

	Lines []TransferLine `gorm:"foreignKey:TransferID"`
}

// TransferLine carries the ordered/picked/received quantities for one SKU on
// a transfer. Invariant: 0 <= Received <= Picked <= Qty.
type TransferLine struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TransferID uuid.UUID `gorm:"column:transfer_id;type:uuid;not null;uniqueIndex:ux_transfer_lines_sku,priority:1"`
	SKU        string    `gorm:"column:sku;not null;uniqueIndex:ux_transfer_lines_sku,priority:2"`
	VariantID  string    `gorm:"column:variant_id;not null;default:'';uniqueIndex:ux_transfer_lines_sku,priority:3"`
	Qty        int       `gorm:"column:qty;not null"`
	Picked     int       `gorm:"column:picked;not null;default:0"`
	Received   int       `gorm:"column:received;not null;default:0"`
}
