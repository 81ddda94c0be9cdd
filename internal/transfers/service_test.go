package transfers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/internal/authz"
	"github.com/danielreynoso/stockroom-backend/internal/movements"
	"github.com/danielreynoso/stockroom-backend/internal/stock"
	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/outbox"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

type stubTxRunner struct {
	db *gorm.DB
}

func (s stubTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

type testEnv struct {
	db        *gorm.DB
	service   Service
	stock     stock.Service
	locationA uuid.UUID
	locationB uuid.UUID
	actor     authz.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:transfers_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.StockLevel{},
		&models.StockMovement{},
		&models.Transfer{},
		&models.TransferLine{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runner := stubTxRunner{db: db}
	publisher := outbox.NewService(outbox.NewRepository(db), nil)

	stockSvc, err := stock.NewService(
		stock.NewRepository(db),
		movements.NewRepository(db),
		runner,
		publisher,
		stock.Options{},
	)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}

	svc, err := NewService(NewRepository(db), stockSvc, runner, publisher, nil)
	if err != nil {
		t.Fatalf("transfers service: %v", err)
	}

	return &testEnv{
		db:        db,
		service:   svc,
		stock:     stockSvc,
		locationA: uuid.New(),
		locationB: uuid.New(),
		actor:     authz.Principal{UserID: uuid.New(), Role: enums.MemberRoleManager},
	}
}

func (e *testEnv) seedStock(t *testing.T, location uuid.UUID, sku string, qty int) {
	t.Helper()
	_, err := e.stock.Adjust(context.Background(), stock.AdjustInput{
		Key:    stock.ItemKey{LocationID: location, SKU: sku},
		Delta:  qty,
		Reason: "seed",
		Actor:  e.actor,
	})
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func (e *testEnv) level(t *testing.T, location uuid.UUID, sku string) *stock.AvailabilityView {
	t.Helper()
	view, err := e.stock.Availability(context.Background(), stock.ItemKey{LocationID: location, SKU: sku})
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	return view
}

func (e *testEnv) create(t *testing.T, lines []LineInput) *models.Transfer {
	t.Helper()
	transfer, err := e.service.Create(context.Background(), CreateInput{
		FromLocationID: e.locationA,
		ToLocationID:   e.locationB,
		Lines:          lines,
		Actor:          e.actor,
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	return transfer
}

func TestCreateRejectsSameLocation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.service.Create(context.Background(), CreateInput{
		FromLocationID: env.locationA,
		ToLocationID:   env.locationA,
		Lines:          []LineInput{{SKU: "X", Qty: 1}},
		Actor:          env.actor,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	var count int64
	env.db.Model(&models.StockMovement{}).Count(&count)
	if count != 0 {
		t.Fatal("validation failure must not touch the ledger")
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"no lines", CreateInput{FromLocationID: env.locationA, ToLocationID: env.locationB, Actor: env.actor}},
		{"zero qty", CreateInput{FromLocationID: env.locationA, ToLocationID: env.locationB, Lines: []LineInput{{SKU: "X", Qty: 0}}, Actor: env.actor}},
		{"blank sku", CreateInput{FromLocationID: env.locationA, ToLocationID: env.locationB, Lines: []LineInput{{SKU: " ", Qty: 1}}, Actor: env.actor}},
		{"duplicate line", CreateInput{FromLocationID: env.locationA, ToLocationID: env.locationB, Lines: []LineInput{{SKU: "X", Qty: 1}, {SKU: "X", Qty: 2}}, Actor: env.actor}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.Create(ctx, tc.input)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	input := CreateInput{
		Code:           "TR-DUP",
		FromLocationID: env.locationA,
		ToLocationID:   env.locationB,
		Lines:          []LineInput{{SKU: "X", Qty: 1}},
		Actor:          env.actor,
	}
	if _, err := env.service.Create(ctx, input); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := env.service.Create(ctx, input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApproveReservesSourceStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 4}})

	approved, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != enums.TransferStatusApproved {
		t.Fatalf("unexpected status %s", approved.Status)
	}

	view := env.level(t, env.locationA, "X")
	if view.OnHand != 10 || view.Reserved != 4 || view.Available != 6 {
		t.Fatalf("approval must reserve ordered qty, got %+v", view)
	}
}

func TestApproveFailsOnInsufficientStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 3)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 5}})

	_, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	reloaded, err := env.service.Get(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != enums.TransferStatusRequested {
		t.Fatalf("failed approve must not transition, got %s", reloaded.Status)
	}
	view := env.level(t, env.locationA, "X")
	if view.Reserved != 0 {
		t.Fatalf("failed approve must not hold reservations, got %+v", view)
	}
}

func TestFullLifecycleWithPartialReceive(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 10}})

	if _, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	picked, err := env.service.Pick(ctx, PickInput{
		TransferID: transfer.ID,
		Picks:      []QtyInput{{SKU: "X", Qty: 10}},
		Actor:      env.actor,
	})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if picked.Status != enums.TransferStatusPicking || picked.Lines[0].Picked != 10 {
		t.Fatalf("unexpected pick state: %+v", picked)
	}

	dispatched, err := env.service.Dispatch(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if dispatched.Status != enums.TransferStatusDispatched {
		t.Fatalf("unexpected status %s", dispatched.Status)
	}
	source := env.level(t, env.locationA, "X")
	if source.OnHand != 0 || source.Reserved != 0 {
		t.Fatalf("dispatch must drain source stock, got %+v", source)
	}

	partial, err := env.service.Receive(ctx, ReceiveInput{
		TransferID: transfer.ID,
		Receipts:   []QtyInput{{SKU: "X", Qty: 6}},
		Actor:      env.actor,
	})
	if err != nil {
		t.Fatalf("partial receive: %v", err)
	}
	if partial.Status == enums.TransferStatusClosed {
		t.Fatal("partial receive must not close the transfer")
	}
	if line := partial.Lines[0]; line.Qty != 10 || line.Picked != 10 || line.Received != 6 {
		t.Fatalf("unexpected line state: %+v", line)
	}
	if dest := env.level(t, env.locationB, "X"); dest.OnHand != 6 {
		t.Fatalf("destination should hold 6, got %+v", dest)
	}

	final, err := env.service.Receive(ctx, ReceiveInput{
		TransferID: transfer.ID,
		Receipts:   []QtyInput{{SKU: "X", Qty: 4}},
		Actor:      env.actor,
	})
	if err != nil {
		t.Fatalf("final receive: %v", err)
	}
	if final.Status != enums.TransferStatusClosed || final.Lines[0].Received != 10 {
		t.Fatalf("expected closed with received=10, got %+v", final)
	}
	if dest := env.level(t, env.locationB, "X"); dest.OnHand != 10 {
		t.Fatalf("destination should hold 10, got %+v", dest)
	}
}

func TestReceiveBeforeDispatchIsInvalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 10}})

	_, err := env.service.Receive(ctx, ReceiveInput{
		TransferID: transfer.ID,
		Receipts:   []QtyInput{{SKU: "X", Qty: 1}},
		Actor:      env.actor,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestPickCannotExceedOrderedQty(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 5}})
	if _, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.service.Pick(ctx, PickInput{TransferID: transfer.ID, Picks: []QtyInput{{SKU: "X", Qty: 3}}, Actor: env.actor}); err != nil {
		t.Fatalf("first pick: %v", err)
	}

	_, err := env.service.Pick(ctx, PickInput{TransferID: transfer.ID, Picks: []QtyInput{{SKU: "X", Qty: 3}}, Actor: env.actor})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	reloaded, err := env.service.Get(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Lines[0].Picked != 3 {
		t.Fatalf("failed pick must not change counts, got %+v", reloaded.Lines[0])
	}
}

func TestReceiveCannotExceedPicked(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 10}})
	if _, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.service.Pick(ctx, PickInput{TransferID: transfer.ID, Picks: []QtyInput{{SKU: "X", Qty: 6}}, Actor: env.actor}); err != nil {
		t.Fatalf("pick: %v", err)
	}
	if _, err := env.service.Dispatch(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	_, err := env.service.Receive(ctx, ReceiveInput{
		TransferID: transfer.ID,
		Receipts:   []QtyInput{{SKU: "X", Qty: 7}},
		Actor:      env.actor,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestPickUnknownSKUIsValidationError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 5}})
	if _, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := env.service.Pick(ctx, PickInput{TransferID: transfer.ID, Picks: []QtyInput{{SKU: "Y", Qty: 1}}, Actor: env.actor})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCancelReleasesReservations(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 4}})
	if _, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	canceled, err := env.service.Cancel(ctx, CancelInput{TransferID: transfer.ID, Reason: "ordered in error", Actor: env.actor})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != enums.TransferStatusCanceled {
		t.Fatalf("unexpected status %s", canceled.Status)
	}
	if canceled.CancelReason == nil || *canceled.CancelReason != "ordered in error" {
		t.Fatalf("cancel reason not recorded: %+v", canceled.CancelReason)
	}

	view := env.level(t, env.locationA, "X")
	if view.Reserved != 0 || view.OnHand != 10 {
		t.Fatalf("cancel must release reservations, got %+v", view)
	}
}

func TestCancelBeforeApproveTouchesNoStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 4}})

	canceled, err := env.service.Cancel(ctx, CancelInput{TransferID: transfer.ID, Actor: env.actor})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != enums.TransferStatusCanceled {
		t.Fatalf("unexpected status %s", canceled.Status)
	}

	var count int64
	env.db.Model(&models.StockMovement{}).Count(&count)
	if count != 0 {
		t.Fatal("cancel before approve must not touch the ledger")
	}
}

func TestCancelDispatchedIsInvalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	transfer := env.create(t, []LineInput{{SKU: "X", Qty: 5}})
	if _, err := env.service.Approve(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.service.Pick(ctx, PickInput{TransferID: transfer.ID, Picks: []QtyInput{{SKU: "X", Qty: 5}}, Actor: env.actor}); err != nil {
		t.Fatalf("pick: %v", err)
	}
	if _, err := env.service.Dispatch(ctx, ActionInput{TransferID: transfer.ID, Actor: env.actor}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	_, err := env.service.Cancel(ctx, CancelInput{TransferID: transfer.ID, Actor: env.actor})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		env.create(t, []LineInput{{SKU: "X", Qty: 1}})
	}

	first, err := env.service.List(ctx, ListInput{Params: pagination.Params{Limit: 2}})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Transfers) != 2 || first.NextCursor == "" {
		t.Fatalf("expected full first page with cursor, got %d rows", len(first.Transfers))
	}

	second, err := env.service.List(ctx, ListInput{Params: pagination.Params{Limit: 2, Cursor: first.NextCursor}})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Transfers) != 1 || second.NextCursor != "" {
		t.Fatalf("expected final page of 1, got %d rows cursor=%q", len(second.Transfers), second.NextCursor)
	}

	seen := map[uuid.UUID]struct{}{}
	for _, row := range append(first.Transfers, second.Transfers...) {
		if _, dup := seen[row.ID]; dup {
			t.Fatal("pages must not overlap")
		}
		seen[row.ID] = struct{}{}
	}
}

func TestListFiltersByStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	env.seedStock(t, env.locationA, "X", 10)
	open := env.create(t, []LineInput{{SKU: "X", Qty: 1}})
	toCancel := env.create(t, []LineInput{{SKU: "X", Qty: 1}})
	if _, err := env.service.Cancel(ctx, CancelInput{TransferID: toCancel.ID, Actor: env.actor}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	result, err := env.service.List(ctx, ListInput{
		Filter: ListFilter{Status: enums.TransferStatusRequested},
		Params: pagination.Params{Limit: 10},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(result.Transfers) != 1 || result.Transfers[0].ID != open.ID {
		t.Fatalf("unexpected filtered result: %+v", result.Transfers)
	}
}
