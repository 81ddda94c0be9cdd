package stock

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
)

func TestReserveLinesIsAllOrNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	location := uuid.New()
	who := actor()

	for _, seed := range []AdjustLine{{SKU: "A", Delta: 10}, {SKU: "B", Delta: 2}} {
		if _, err := env.service.Adjust(ctx, AdjustInput{
			Key:    ItemKey{LocationID: location, SKU: seed.SKU},
			Delta:  seed.Delta,
			Reason: "seed",
			Actor:  who,
		}); err != nil {
			t.Fatalf("seed %s: %v", seed.SKU, err)
		}
	}

	_, err := env.service.ReserveLines(ctx, BatchReserveInput{
		LocationID: location,
		OrderID:    "order-1",
		Items:      []QtyLine{{SKU: "A", Qty: 5}, {SKU: "B", Qty: 5}},
		Actor:      who,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// The failing second line must roll back the first.
	var rowA models.StockLevel
	if err := env.db.First(&rowA, "location_id = ? AND sku = ?", location, "A").Error; err != nil {
		t.Fatalf("load row A: %v", err)
	}
	if rowA.Reserved != 0 {
		t.Fatalf("partial reservation leaked: %+v", rowA)
	}
}

func TestReserveLinesCommitsAllRows(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	location := uuid.New()
	who := actor()

	for _, sku := range []string{"A", "B"} {
		if _, err := env.service.Adjust(ctx, AdjustInput{
			Key:    ItemKey{LocationID: location, SKU: sku},
			Delta:  10,
			Reason: "seed",
			Actor:  who,
		}); err != nil {
			t.Fatalf("seed %s: %v", sku, err)
		}
	}

	rows, err := env.service.ReserveLines(ctx, BatchReserveInput{
		LocationID: location,
		OrderID:    "order-2",
		Items:      []QtyLine{{SKU: "A", Qty: 4}, {SKU: "B", Qty: 6}},
		Actor:      who,
	})
	if err != nil {
		t.Fatalf("reserve lines: %v", err)
	}
	if len(rows) != 2 || rows[0].Reserved != 4 || rows[1].Reserved != 6 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestReleaseLinesByOrderReference(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	location := uuid.New()
	who := actor()

	if _, err := env.service.Adjust(ctx, AdjustInput{
		Key:    ItemKey{LocationID: location, SKU: "A"},
		Delta:  10,
		Reason: "seed",
		Actor:  who,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := env.service.ReserveLines(ctx, BatchReserveInput{
		LocationID: location,
		OrderID:    "order-3",
		Items:      []QtyLine{{SKU: "A", Qty: 7}},
		Actor:      who,
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	rows, err := env.service.ReleaseLines(ctx, BatchReleaseInput{
		LocationID: location,
		OrderID:    "order-3",
		Actor:      who,
	})
	if err != nil {
		t.Fatalf("release by order: %v", err)
	}
	if len(rows) != 1 || rows[0].Reserved != 0 || rows[0].OnHand != 10 {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	// Nothing left to release under the reference.
	_, err = env.service.ReleaseLines(ctx, BatchReleaseInput{
		LocationID: location,
		OrderID:    "order-3",
		Actor:      who,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReleaseLinesRequiresOrderOrItems(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.service.ReleaseLines(context.Background(), BatchReleaseInput{
		LocationID: uuid.New(),
		Actor:      actor(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAdjustLinesRejectsDuplicates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.service.AdjustLines(context.Background(), BatchAdjustInput{
		LocationID: uuid.New(),
		Lines:      []AdjustLine{{SKU: "A", Delta: 1}, {SKU: "A", Delta: 2}},
		Reason:     "restock",
		Actor:      actor(),
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
