package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
)

type stockLevelView struct {
	ID         uuid.UUID `json:"id"`
	LocationID uuid.UUID `json:"locationId"`
	SKU        string    `json:"sku"`
	VariantID  string    `json:"variantId,omitempty"`
	OnHand     int       `json:"onHand"`
	Reserved   int       `json:"reserved"`
	Available  int       `json:"available"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func toStockLevelView(row models.StockLevel) stockLevelView {
	return stockLevelView{
		ID:         row.ID,
		LocationID: row.LocationID,
		SKU:        row.SKU,
		VariantID:  row.VariantID,
		OnHand:     row.OnHand,
		Reserved:   row.Reserved,
		Available:  row.Available(),
		UpdatedAt:  row.UpdatedAt,
	}
}

func toStockLevelViews(rows []models.StockLevel) []stockLevelView {
	views := make([]stockLevelView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toStockLevelView(row))
	}
	return views
}

type transferLineView struct {
	ID        uuid.UUID `json:"id"`
	SKU       string    `json:"sku"`
	VariantID string    `json:"variantId,omitempty"`
	Qty       int       `json:"qty"`
	Picked    int       `json:"picked"`
	Received  int       `json:"received"`
}

type transferView struct {
	ID             uuid.UUID            `json:"id"`
	Code           string               `json:"code"`
	FromLocationID uuid.UUID            `json:"fromLocationId"`
	ToLocationID   uuid.UUID            `json:"toLocationId"`
	Status         enums.TransferStatus `json:"status"`
	CancelReason   *string              `json:"cancelReason,omitempty"`
	CreatedBy      uuid.UUID            `json:"createdBy"`
	UpdatedBy      uuid.UUID            `json:"updatedBy"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
	Lines          []transferLineView   `json:"lines"`
}

func toTransferView(transfer *models.Transfer) transferView {
	lines := make([]transferLineView, 0, len(transfer.Lines))
	for _, line := range transfer.Lines {
		lines = append(lines, transferLineView{
			ID:        line.ID,
			SKU:       line.SKU,
			VariantID: line.VariantID,
			Qty:       line.Qty,
			Picked:    line.Picked,
			Received:  line.Received,
		})
	}
	return transferView{
		ID:             transfer.ID,
		Code:           transfer.Code,
		FromLocationID: transfer.FromLocationID,
		ToLocationID:   transfer.ToLocationID,
		Status:         transfer.Status,
		CancelReason:   transfer.CancelReason,
		CreatedBy:      transfer.CreatedBy,
		UpdatedBy:      transfer.UpdatedBy,
		CreatedAt:      transfer.CreatedAt,
		UpdatedAt:      transfer.UpdatedAt,
		Lines:          lines,
	}
}

func toTransferViews(rows []models.Transfer) []transferView {
	views := make([]transferView, 0, len(rows))
	for i := range rows {
		views = append(views, toTransferView(&rows[i]))
	}
	return views
}

type movementView struct {
	ID          uuid.UUID          `json:"id"`
	LocationID  uuid.UUID          `json:"locationId"`
	SKU         string             `json:"sku"`
	VariantID   string             `json:"variantId,omitempty"`
	Kind        enums.MovementKind `json:"kind"`
	Quantity    int                `json:"quantity"`
	Reason      string             `json:"reason,omitempty"`
	Reference   string             `json:"reference,omitempty"`
	ActorUserID uuid.UUID          `json:"actorUserId"`
	CreatedAt   time.Time          `json:"createdAt"`
}

func toMovementViews(rows []models.StockMovement) []movementView {
	views := make([]movementView, 0, len(rows))
	for _, row := range rows {
		views = append(views, movementView{
			ID:          row.ID,
			LocationID:  row.LocationID,
			SKU:         row.SKU,
			VariantID:   row.VariantID,
			Kind:        row.Kind,
			Quantity:    row.Quantity,
			Reason:      row.Reason,
			Reference:   row.Reference,
			ActorUserID: row.ActorUserID,
			CreatedAt:   row.CreatedAt,
		})
	}
	return views
}
