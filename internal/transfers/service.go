package transfers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/internal/authz"
	"github.com/danielreynoso/stockroom-backend/internal/stock"
	dbpkg "github.com/danielreynoso/stockroom-backend/pkg/db"
	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/metrics"
	"github.com/danielreynoso/stockroom-backend/pkg/outbox"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockLedger is the only path through which the workflow touches stock
// quantities. All calls run inside the workflow's transaction.
type StockLedger interface {
	AdjustTx(ctx context.Context, tx *gorm.DB, input stock.AdjustInput) (*models.StockLevel, error)
	ReserveTx(ctx context.Context, tx *gorm.DB, input stock.ReserveInput) (*models.StockLevel, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, input stock.ReleaseInput) (*models.StockLevel, error)
}

// Service drives the transfer state machine.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Transfer, error)
	Approve(ctx context.Context, input ActionInput) (*models.Transfer, error)
	Pick(ctx context.Context, input PickInput) (*models.Transfer, error)
	Dispatch(ctx context.Context, input ActionInput) (*models.Transfer, error)
	Receive(ctx context.Context, input ReceiveInput) (*models.Transfer, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Transfer, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	List(ctx context.Context, input ListInput) (*ListResult, error)
}

type service struct {
	repo    Repository
	ledger  StockLedger
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.TransferMetrics
}

// LineInput is one ordered line on a new transfer.
type LineInput struct {
	SKU       string
	VariantID string
	Qty       int
}

// QtyInput names a line and a positive quantity for pick/receive actions.
type QtyInput struct {
	SKU       string
	VariantID string
	Qty       int
}

// CreateInput opens a new transfer between two distinct locations.
type CreateInput struct {
	Code           string
	FromLocationID uuid.UUID
	ToLocationID   uuid.UUID
	Lines          []LineInput
	Actor          authz.Principal
}

// ActionInput identifies the transfer for header-only transitions.
type ActionInput struct {
	TransferID uuid.UUID
	Actor      authz.Principal
}

// PickInput accumulates picked quantities on one or more lines.
type PickInput struct {
	TransferID uuid.UUID
	Picks      []QtyInput
	Actor      authz.Principal
}

// ReceiveInput accumulates received quantities on one or more lines.
type ReceiveInput struct {
	TransferID uuid.UUID
	Receipts   []QtyInput
	Actor      authz.Principal
}

// CancelInput aborts a transfer from any pre-dispatch state.
type CancelInput struct {
	TransferID uuid.UUID
	Reason     string
	Actor      authz.Principal
}

// ListInput carries the listing filter plus cursor pagination parameters.
type ListInput struct {
	Filter ListFilter
	Params pagination.Params
}

// ListResult is one page of transfers plus the cursor for the next page.
type ListResult struct {
	Transfers  []models.Transfer
	NextCursor string
}

// TransferEvent is the outbox payload for workflow transitions.
type TransferEvent struct {
	TransferID     uuid.UUID            `json:"transfer_id"`
	Code           string               `json:"code"`
	Status         enums.TransferStatus `json:"status"`
	FromLocationID uuid.UUID            `json:"from_location_id"`
	ToLocationID   uuid.UUID            `json:"to_location_id"`
}

// NewService wires the transfer workflow with its collaborators.
func NewService(repo Repository, ledger StockLedger, tx txRunner, publisher outboxPublisher, transferMetrics *metrics.TransferMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("transfers repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:    repo,
		ledger:  ledger,
		tx:      tx,
		outbox:  publisher,
		metrics: transferMetrics,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Transfer, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.FromLocationID == uuid.Nil || input.ToLocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "both locations are required")
	}
	if input.FromLocationID == input.ToLocationID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from and to locations must differ")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}

	seen := map[string]struct{}{}
	lines := make([]models.TransferLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		if strings.TrimSpace(line.SKU) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line sku is required")
		}
		if line.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %s qty must be positive", line.SKU))
		}
		dedup := line.SKU + "|" + line.VariantID
		if _, dup := seen[dedup]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate line for sku %s", line.SKU))
		}
		seen[dedup] = struct{}{}
		lines = append(lines, models.TransferLine{
			SKU:       line.SKU,
			VariantID: line.VariantID,
			Qty:       line.Qty,
		})
	}

	code := strings.TrimSpace(input.Code)
	if code == "" {
		code = generateCode()
	}

	transfer := &models.Transfer{
		Code:           code,
		FromLocationID: input.FromLocationID,
		ToLocationID:   input.ToLocationID,
		Status:         enums.TransferStatusRequested,
		CreatedBy:      input.Actor.UserID,
		UpdatedBy:      input.Actor.UserID,
		Lines:          lines,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, transfer); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("transfer code %q already exists", code))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transfer")
		}
		return s.emit(ctx, tx, transfer, enums.OutboxEventTransferCreated, input.Actor)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(transfer.Status))
	return transfer, nil
}

// Approve gates the transfer and reserves every ordered quantity at the
// source location; dispatch is the point stock actually leaves on-hand.
func (s *service) Approve(ctx context.Context, input ActionInput) (*models.Transfer, error) {
	return s.transition(ctx, input.TransferID, input.Actor, "approve",
		[]enums.TransferStatus{enums.TransferStatusDraft, enums.TransferStatusRequested},
		enums.TransferStatusApproved,
		enums.OutboxEventTransferApproved,
		func(ctx context.Context, tx *gorm.DB, transfer *models.Transfer) error {
			for _, line := range transfer.Lines {
				_, err := s.ledger.ReserveTx(ctx, tx, stock.ReserveInput{
					Key: stock.ItemKey{
						LocationID: transfer.FromLocationID,
						SKU:        line.SKU,
						VariantID:  line.VariantID,
					},
					Qty:       line.Qty,
					Reason:    "transfer approval",
					Reference: transfer.Code,
					Actor:     input.Actor,
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *service) Pick(ctx context.Context, input PickInput) (*models.Transfer, error) {
	if len(input.Picks) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one pick is required")
	}
	return s.transition(ctx, input.TransferID, input.Actor, "pick",
		[]enums.TransferStatus{enums.TransferStatusApproved, enums.TransferStatusPicking},
		enums.TransferStatusPicking,
		enums.OutboxEventTransferPicked,
		func(ctx context.Context, tx *gorm.DB, transfer *models.Transfer) error {
			repo := s.repo.WithTx(tx)
			for _, pick := range input.Picks {
				line, err := findLine(transfer, pick.SKU, pick.VariantID)
				if err != nil {
					return err
				}
				if pick.Qty <= 0 {
					return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("pick qty for %s must be positive", pick.SKU))
				}
				applied, err := repo.AddPicked(ctx, line.ID, pick.Qty)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record pick")
				}
				if !applied {
					return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("pick exceeds ordered quantity for %s", pick.SKU)).
						WithDetails(map[string]any{"sku": pick.SKU, "qty": line.Qty, "picked": line.Picked, "requested": pick.Qty})
				}
			}
			return nil
		})
}

// Dispatch releases the approval reservations and removes the picked
// quantities from source on-hand; the stock is in transit from here on.
func (s *service) Dispatch(ctx context.Context, input ActionInput) (*models.Transfer, error) {
	return s.transition(ctx, input.TransferID, input.Actor, "dispatch",
		[]enums.TransferStatus{enums.TransferStatusPicking},
		enums.TransferStatusDispatched,
		enums.OutboxEventTransferDispatched,
		func(ctx context.Context, tx *gorm.DB, transfer *models.Transfer) error {
			totalPicked := 0
			for _, line := range transfer.Lines {
				totalPicked += line.Picked
			}
			if totalPicked == 0 {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "nothing picked to dispatch")
			}
			for _, line := range transfer.Lines {
				key := stock.ItemKey{
					LocationID: transfer.FromLocationID,
					SKU:        line.SKU,
					VariantID:  line.VariantID,
				}
				if _, err := s.ledger.ReleaseTx(ctx, tx, stock.ReleaseInput{
					Key:       key,
					Qty:       line.Qty,
					Reason:    "transfer dispatch",
					Reference: transfer.Code,
					Actor:     input.Actor,
				}); err != nil {
					return err
				}
				if line.Picked > 0 {
					if _, err := s.ledger.AdjustTx(ctx, tx, stock.AdjustInput{
						Key:       key,
						Delta:     -line.Picked,
						Reason:    "transfer dispatch",
						Reference: transfer.Code,
						Actor:     input.Actor,
					}); err != nil {
						return err
					}
				}
			}
			return nil
		})
}

func (s *service) Receive(ctx context.Context, input ReceiveInput) (*models.Transfer, error) {
	if len(input.Receipts) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one receipt is required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.TransferID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer id required")
	}

	var result *models.Transfer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		transfer, err := s.load(ctx, repo, input.TransferID)
		if err != nil {
			return err
		}
		allowed := []enums.TransferStatus{enums.TransferStatusDispatched, enums.TransferStatusReceived}
		if !statusIn(transfer.Status, allowed) {
			return invalidTransition(transfer.Status, "receive")
		}

		for _, receipt := range input.Receipts {
			line, err := findLine(transfer, receipt.SKU, receipt.VariantID)
			if err != nil {
				return err
			}
			if receipt.Qty <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("receipt qty for %s must be positive", receipt.SKU))
			}
			applied, err := repo.AddReceived(ctx, line.ID, receipt.Qty)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record receipt")
			}
			if !applied {
				return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("receive exceeds picked quantity for %s", receipt.SKU)).
					WithDetails(map[string]any{"sku": receipt.SKU, "picked": line.Picked, "received": line.Received, "requested": receipt.Qty})
			}
			if _, err := s.ledger.AdjustTx(ctx, tx, stock.AdjustInput{
				Key: stock.ItemKey{
					LocationID: transfer.ToLocationID,
					SKU:        receipt.SKU,
					VariantID:  receipt.VariantID,
				},
				Delta:     receipt.Qty,
				Reason:    "transfer receipt",
				Reference: transfer.Code,
				Actor:     input.Actor,
			}); err != nil {
				return err
			}
		}

		// Reload lines to evaluate completion against the accumulated counts.
		transfer, err = s.load(ctx, repo, input.TransferID)
		if err != nil {
			return err
		}
		target := enums.TransferStatusReceived
		eventType := enums.OutboxEventTransferReceived
		if fullyReceived(transfer) {
			target = enums.TransferStatusClosed
			eventType = enums.OutboxEventTransferClosed
		}

		applied, err := repo.UpdateStatus(ctx, input.TransferID, allowed, target, input.Actor.UserID, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transfer status")
		}
		if !applied {
			return invalidTransition(transfer.Status, "receive")
		}
		transfer.Status = target
		transfer.UpdatedBy = input.Actor.UserID

		if err := s.emit(ctx, tx, transfer, eventType, input.Actor); err != nil {
			return err
		}
		result = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(result.Status))
	return result, nil
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Transfer, error) {
	cancelable := []enums.TransferStatus{
		enums.TransferStatusDraft,
		enums.TransferStatusRequested,
		enums.TransferStatusApproved,
		enums.TransferStatusPicking,
	}
	reason := strings.TrimSpace(input.Reason)

	return s.transitionWithReason(ctx, input.TransferID, input.Actor, "cancel",
		cancelable,
		enums.TransferStatusCanceled,
		enums.OutboxEventTransferCanceled,
		&reason,
		func(ctx context.Context, tx *gorm.DB, transfer *models.Transfer) error {
			// Reservations exist only once approval succeeded.
			if transfer.Status != enums.TransferStatusApproved && transfer.Status != enums.TransferStatusPicking {
				return nil
			}
			for _, line := range transfer.Lines {
				if _, err := s.ledger.ReleaseTx(ctx, tx, stock.ReleaseInput{
					Key: stock.ItemKey{
						LocationID: transfer.FromLocationID,
						SKU:        line.SKU,
						VariantID:  line.VariantID,
					},
					Qty:       line.Qty,
					Reason:    "transfer cancel",
					Reference: transfer.Code,
					Actor:     input.Actor,
				}); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer id required")
	}
	transfer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transfer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transfer")
	}
	return transfer, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	if input.Filter.Status != "" && !input.Filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", input.Filter.Status))
	}
	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(input.Params.Limit)
	rows, err := s.repo.List(ctx, input.Filter, limit+1, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transfers")
	}

	result := &ListResult{}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	result.Transfers = rows
	return result, nil
}

type transitionEffect func(ctx context.Context, tx *gorm.DB, transfer *models.Transfer) error

func (s *service) transition(ctx context.Context, id uuid.UUID, actor authz.Principal, action string, from []enums.TransferStatus, to enums.TransferStatus, eventType enums.OutboxEventType, effect transitionEffect) (*models.Transfer, error) {
	return s.transitionWithReason(ctx, id, actor, action, from, to, eventType, nil, effect)
}

func (s *service) transitionWithReason(ctx context.Context, id uuid.UUID, actor authz.Principal, action string, from []enums.TransferStatus, to enums.TransferStatus, eventType enums.OutboxEventType, cancelReason *string, effect transitionEffect) (*models.Transfer, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer id required")
	}

	var result *models.Transfer
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		transfer, err := s.load(ctx, repo, id)
		if err != nil {
			return err
		}
		if !statusIn(transfer.Status, from) {
			return invalidTransition(transfer.Status, action)
		}

		if effect != nil {
			if err := effect(ctx, tx, transfer); err != nil {
				return err
			}
		}

		applied, err := repo.UpdateStatus(ctx, id, from, to, actor.UserID, cancelReason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transfer status")
		}
		if !applied {
			return invalidTransition(transfer.Status, action)
		}

		transfer, err = s.load(ctx, repo, id)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, tx, transfer, eventType, actor); err != nil {
			return err
		}
		result = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(result.Status))
	return result, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Transfer, error) {
	transfer, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transfer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transfer")
	}
	return transfer, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, transfer *models.Transfer, eventType enums.OutboxEventType, actor authz.Principal) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.OutboxAggregateTransfer,
		AggregateID:   transfer.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
		Data: TransferEvent{
			TransferID:     transfer.ID,
			Code:           transfer.Code,
			Status:         transfer.Status,
			FromLocationID: transfer.FromLocationID,
			ToLocationID:   transfer.ToLocationID,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit transfer event")
	}
	return nil
}

func findLine(transfer *models.Transfer, sku, variantID string) (*models.TransferLine, error) {
	for i := range transfer.Lines {
		if transfer.Lines[i].SKU == sku && transfer.Lines[i].VariantID == variantID {
			return &transfer.Lines[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("sku %s is not on this transfer", sku))
}

func fullyReceived(transfer *models.Transfer) bool {
	for _, line := range transfer.Lines {
		if line.Received != line.Qty {
			return false
		}
	}
	return true
}

func statusIn(status enums.TransferStatus, allowed []enums.TransferStatus) bool {
	for _, candidate := range allowed {
		if status == candidate {
			return true
		}
	}
	return false
}

func invalidTransition(from enums.TransferStatus, action string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot %s a %s transfer", action, from)).
		WithDetails(map[string]any{"from": from, "action": action})
}

func generateCode() string {
	return "TR-" + strings.ToUpper(uuid.NewString()[:8])
}
