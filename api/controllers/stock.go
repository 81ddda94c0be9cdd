package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/api/middleware"
	"github.com/danielreynoso/stockroom-backend/api/responses"
	"github.com/danielreynoso/stockroom-backend/api/validators"
	"github.com/danielreynoso/stockroom-backend/internal/stock"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

type adjustLineRequest struct {
	SKU       string `json:"sku" validate:"required"`
	VariantID string `json:"variantId,omitempty"`
	Delta     int    `json:"delta" validate:"required"`
}

type adjustStockRequest struct {
	LocationID uuid.UUID           `json:"locationId" validate:"required"`
	Lines      []adjustLineRequest `json:"lines" validate:"required,min=1,dive"`
	Reason     string              `json:"reason" validate:"required"`
	Reference  string              `json:"reference,omitempty"`
}

// StockAdjust applies signed on-hand deltas for receipts, counts, and damage.
func StockAdjust(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload adjustStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]stock.AdjustLine, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, stock.AdjustLine{
				SKU:       line.SKU,
				VariantID: line.VariantID,
				Delta:     line.Delta,
			})
		}

		rows, err := svc.AdjustLines(r.Context(), stock.BatchAdjustInput{
			LocationID: payload.LocationID,
			Lines:      lines,
			Reason:     payload.Reason,
			Reference:  payload.Reference,
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"levels": toStockLevelViews(rows)})
	}
}

type qtyLineRequest struct {
	SKU       string `json:"sku" validate:"required"`
	VariantID string `json:"variantId,omitempty"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

type reserveStockRequest struct {
	LocationID uuid.UUID        `json:"locationId" validate:"required"`
	OrderID    string           `json:"orderId" validate:"required"`
	Items      []qtyLineRequest `json:"items" validate:"required,min=1,dive"`
}

// StockReserve earmarks quantities for an order without moving them.
func StockReserve(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload reserveStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ReserveLines(r.Context(), stock.BatchReserveInput{
			LocationID: payload.LocationID,
			OrderID:    payload.OrderID,
			Items:      toQtyLines(payload.Items),
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"levels": toStockLevelViews(rows)})
	}
}

type releaseStockRequest struct {
	LocationID uuid.UUID        `json:"locationId" validate:"required"`
	OrderID    string           `json:"orderId,omitempty"`
	Items      []qtyLineRequest `json:"items,omitempty" validate:"omitempty,dive"`
}

// StockRelease returns reserved quantities to the available pool, either by
// explicit items or by resolving everything held under an order reference.
func StockRelease(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload releaseStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ReleaseLines(r.Context(), stock.BatchReleaseInput{
			LocationID: payload.LocationID,
			OrderID:    payload.OrderID,
			Items:      toQtyLines(payload.Items),
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"levels": toStockLevelViews(rows)})
	}
}

// StockAvailability reads the promise-safe quantity for one row. Unknown rows
// read as zero.
func StockAvailability(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, err := validators.ParseQueryUUID(r, "locationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if locationID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "locationId is required"))
			return
		}
		sku := validators.ParseQueryString(r, "sku")
		if sku == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "sku is required"))
			return
		}

		view, err := svc.Availability(r.Context(), stock.ItemKey{
			LocationID: locationID,
			SKU:        sku,
			VariantID:  validators.ParseQueryString(r, "variantId"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, view)
	}
}

// StockLevels lists the ledger rows at one location, keyed forward by sku.
func StockLevels(svc stock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, err := validators.ParseQueryUUID(r, "locationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListLevels(r.Context(), locationID, limit, validators.ParseQueryString(r, "afterSku"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"levels": toStockLevelViews(rows)})
	}
}

func toQtyLines(items []qtyLineRequest) []stock.QtyLine {
	lines := make([]stock.QtyLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, stock.QtyLine{
			SKU:       item.SKU,
			VariantID: item.VariantID,
			Qty:       item.Qty,
		})
	}
	return lines
}
