package stock

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/internal/authz"
	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
)

// AdjustLine is one signed on-hand delta within a batch adjustment.
type AdjustLine struct {
	SKU       string
	VariantID string
	Delta     int
}

// QtyLine names a row and a positive quantity for batch reserve/release.
type QtyLine struct {
	SKU       string
	VariantID string
	Qty       int
}

// BatchAdjustInput applies several deltas at one location atomically.
type BatchAdjustInput struct {
	LocationID uuid.UUID
	Lines      []AdjustLine
	Reason     string
	Reference  string
	Actor      authz.Principal
}

// BatchReserveInput earmarks several quantities for one order atomically.
// Either every line commits or none do.
type BatchReserveInput struct {
	LocationID uuid.UUID
	OrderID    string
	Items      []QtyLine
	Actor      authz.Principal
}

// BatchReleaseInput returns reserved quantities to the available pool. With
// an empty Items slice the outstanding reservations recorded against OrderID
// are released instead.
type BatchReleaseInput struct {
	LocationID uuid.UUID
	OrderID    string
	Items      []QtyLine
	Actor      authz.Principal
}

func (s *service) AdjustLines(ctx context.Context, input BatchAdjustInput) ([]models.StockLevel, error) {
	if input.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location id required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}
	if err := rejectDuplicates(len(input.Lines), func(i int) (string, string) {
		return input.Lines[i].SKU, input.Lines[i].VariantID
	}); err != nil {
		return nil, err
	}

	var rows []models.StockLevel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows = rows[:0]
		for _, line := range input.Lines {
			row, err := s.AdjustTx(ctx, tx, AdjustInput{
				Key: ItemKey{
					LocationID: input.LocationID,
					SKU:        line.SKU,
					VariantID:  line.VariantID,
				},
				Delta:     line.Delta,
				Reason:    input.Reason,
				Reference: input.Reference,
				Actor:     input.Actor,
			})
			if err != nil {
				return err
			}
			rows = append(rows, *row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) ReserveLines(ctx context.Context, input BatchReserveInput) ([]models.StockLevel, error) {
	if input.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location id required")
	}
	if strings.TrimSpace(input.OrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if err := rejectDuplicates(len(input.Items), func(i int) (string, string) {
		return input.Items[i].SKU, input.Items[i].VariantID
	}); err != nil {
		return nil, err
	}

	var rows []models.StockLevel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows = rows[:0]
		for _, item := range input.Items {
			row, err := s.ReserveTx(ctx, tx, ReserveInput{
				Key: ItemKey{
					LocationID: input.LocationID,
					SKU:        item.SKU,
					VariantID:  item.VariantID,
				},
				Qty:       item.Qty,
				Reason:    "order reservation",
				Reference: input.OrderID,
				Actor:     input.Actor,
			})
			if err != nil {
				return err
			}
			rows = append(rows, *row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) ReleaseLines(ctx context.Context, input BatchReleaseInput) ([]models.StockLevel, error) {
	if input.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location id required")
	}
	orderID := strings.TrimSpace(input.OrderID)
	if len(input.Items) == 0 && orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "either order id or items are required")
	}
	if err := rejectDuplicates(len(input.Items), func(i int) (string, string) {
		return input.Items[i].SKU, input.Items[i].VariantID
	}); err != nil {
		return nil, err
	}

	var rows []models.StockLevel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows = rows[:0]

		items := input.Items
		if len(items) == 0 {
			// Release whatever is still reserved under the order reference.
			outstanding, err := s.movements.WithTx(tx).OutstandingReservations(ctx, input.LocationID, orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve outstanding reservations")
			}
			if len(outstanding) == 0 {
				return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no outstanding reservations for order %s", orderID))
			}
			for _, total := range outstanding {
				items = append(items, QtyLine{SKU: total.SKU, VariantID: total.VariantID, Qty: total.Qty})
			}
		}

		for _, item := range items {
			row, err := s.ReleaseTx(ctx, tx, ReleaseInput{
				Key: ItemKey{
					LocationID: input.LocationID,
					SKU:        item.SKU,
					VariantID:  item.VariantID,
				},
				Qty:       item.Qty,
				Reason:    "order release",
				Reference: orderID,
				Actor:     input.Actor,
			})
			if err != nil {
				return err
			}
			rows = append(rows, *row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func rejectDuplicates(n int, keyAt func(int) (string, string)) error {
	seen := map[string]struct{}{}
	for i := 0; i < n; i++ {
		sku, variant := keyAt(i)
		dedup := sku + "|" + variant
		if _, dup := seen[dedup]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate line for sku %s", sku))
		}
		seen[dedup] = struct{}{}
	}
	return nil
}
