package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/internal/authz"
	"github.com/danielreynoso/stockroom-backend/internal/movements"
	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	"github.com/danielreynoso/stockroom-backend/pkg/metrics"
	"github.com/danielreynoso/stockroom-backend/pkg/outbox"
	pkgredis "github.com/danielreynoso/stockroom-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes the three ledger primitives and the availability read side.
// The *Tx variants run inside a caller-owned transaction so workflows can
// compose several ledger calls atomically; the plain variants wrap one call
// in its own transaction.
type Service interface {
	Adjust(ctx context.Context, input AdjustInput) (*models.StockLevel, error)
	Reserve(ctx context.Context, input ReserveInput) (*models.StockLevel, error)
	Release(ctx context.Context, input ReleaseInput) (*models.StockLevel, error)
	AdjustTx(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.StockLevel, error)
	ReserveTx(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.StockLevel, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, input ReleaseInput) (*models.StockLevel, error)
	AdjustLines(ctx context.Context, input BatchAdjustInput) ([]models.StockLevel, error)
	ReserveLines(ctx context.Context, input BatchReserveInput) ([]models.StockLevel, error)
	ReleaseLines(ctx context.Context, input BatchReleaseInput) ([]models.StockLevel, error)
	Availability(ctx context.Context, key ItemKey) (*AvailabilityView, error)
	ListLevels(ctx context.Context, locationID uuid.UUID, limit int, afterSKU string) ([]models.StockLevel, error)
}

type service struct {
	repo      Repository
	movements movements.Repository
	tx        txRunner
	outbox    outboxPublisher
	cache     pkgredis.KV
	cacheTTL  time.Duration
	metrics   *metrics.StockMetrics
	logg      *logger.Logger
}

// AdjustInput applies a signed on-hand delta for receipts, counts, and damage.
type AdjustInput struct {
	Key       ItemKey
	Delta     int
	Reason    string
	Reference string
	Actor     authz.Principal
}

// ReserveInput earmarks quantity for a downstream consumer without moving it.
type ReserveInput struct {
	Key       ItemKey
	Qty       int
	Reason    string
	Reference string
	Actor     authz.Principal
}

// ReleaseInput returns previously reserved quantity to the available pool.
type ReleaseInput struct {
	Key       ItemKey
	Qty       int
	Reason    string
	Reference string
	Actor     authz.Principal
}

// AvailabilityView is the promise-safe quantity snapshot for one row.
type AvailabilityView struct {
	LocationID uuid.UUID `json:"locationId"`
	SKU        string    `json:"sku"`
	VariantID  string    `json:"variantId,omitempty"`
	OnHand     int       `json:"onHand"`
	Reserved   int       `json:"reserved"`
	Available  int       `json:"available"`
}

// StockChangedEvent is the outbox payload for every committed ledger mutation.
type StockChangedEvent struct {
	LocationID uuid.UUID          `json:"location_id"`
	SKU        string             `json:"sku"`
	VariantID  string             `json:"variant_id,omitempty"`
	Kind       enums.MovementKind `json:"kind"`
	Quantity   int                `json:"quantity"`
	OnHand     int                `json:"on_hand"`
	Reserved   int                `json:"reserved"`
	Reason     string             `json:"reason,omitempty"`
	Reference  string             `json:"reference,omitempty"`
}

// Options carries the optional service collaborators.
type Options struct {
	Cache    pkgredis.KV
	CacheTTL time.Duration
	Metrics  *metrics.StockMetrics
	Logger   *logger.Logger
}

// NewService wires the stock ledger service with its collaborators.
func NewService(repo Repository, movementsRepo movements.Repository, tx txRunner, publisher outboxPublisher, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if movementsRepo == nil {
		return nil, fmt.Errorf("movements repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:      repo,
		movements: movementsRepo,
		tx:        tx,
		outbox:    publisher,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		metrics:   opts.Metrics,
		logg:      opts.Logger,
	}, nil
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (*models.StockLevel, error) {
	var row *models.StockLevel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.AdjustTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*models.StockLevel, error) {
	var row *models.StockLevel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.ReserveTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) Release(ctx context.Context, input ReleaseInput) (*models.StockLevel, error) {
	var row *models.StockLevel
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		row, txErr = s.ReleaseTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (s *service) AdjustTx(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.StockLevel, error) {
	if err := validateKey(input.Key); err != nil {
		return nil, err
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must be non-zero")
	}
	if strings.TrimSpace(input.Reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}

	repo := s.repo.WithTx(tx)
	if err := repo.EnsureRow(ctx, input.Key); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure stock row")
	}

	applied, err := repo.AddOnHand(ctx, input.Key, input.Delta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply adjustment")
	}
	if !applied {
		details := map[string]any{"delta": input.Delta}
		if current, loadErr := repo.Get(ctx, input.Key); loadErr == nil {
			details["onHand"] = current.OnHand
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "adjustment would drive on-hand negative").
			WithDetails(details)
	}

	row, err := repo.Get(ctx, input.Key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload stock row")
	}

	if err := s.record(ctx, tx, row, enums.MovementKindAdjust, enums.OutboxEventStockAdjusted, input.Delta, input.Reason, input.Reference, input.Actor); err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, input.Key)
	s.metrics.IncMovement(string(enums.MovementKindAdjust))
	return row, nil
}

func (s *service) ReserveTx(ctx context.Context, tx *gorm.DB, input ReserveInput) (*models.StockLevel, error) {
	if err := validateKey(input.Key); err != nil {
		return nil, err
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}

	repo := s.repo.WithTx(tx)
	if err := repo.EnsureRow(ctx, input.Key); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure stock row")
	}

	applied, err := repo.AddReserved(ctx, input.Key, input.Qty)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply reservation")
	}
	if !applied {
		s.metrics.IncReservation("insufficient")
		details := map[string]any{"sku": input.Key.SKU, "requested": input.Qty}
		if current, loadErr := repo.Get(ctx, input.Key); loadErr == nil {
			details["available"] = current.Available()
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "not enough unreserved stock").
			WithDetails(details)
	}

	row, err := repo.Get(ctx, input.Key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload stock row")
	}

	if err := s.record(ctx, tx, row, enums.MovementKindReserve, enums.OutboxEventStockReserved, input.Qty, input.Reason, input.Reference, input.Actor); err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, input.Key)
	s.metrics.IncMovement(string(enums.MovementKindReserve))
	s.metrics.IncReservation("granted")
	return row, nil
}

func (s *service) ReleaseTx(ctx context.Context, tx *gorm.DB, input ReleaseInput) (*models.StockLevel, error) {
	if err := validateKey(input.Key); err != nil {
		return nil, err
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "qty must be positive")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}

	repo := s.repo.WithTx(tx)
	applied, err := repo.SubReserved(ctx, input.Key, input.Qty)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply release")
	}
	if !applied {
		details := map[string]any{"sku": input.Key.SKU, "requested": input.Qty}
		if current, loadErr := repo.Get(ctx, input.Key); loadErr == nil {
			details["reserved"] = current.Reserved
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "release exceeds reserved quantity").
			WithDetails(details)
	}

	row, err := repo.Get(ctx, input.Key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload stock row")
	}

	if err := s.record(ctx, tx, row, enums.MovementKindRelease, enums.OutboxEventStockReleased, -input.Qty, input.Reason, input.Reference, input.Actor); err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, input.Key)
	s.metrics.IncMovement(string(enums.MovementKindRelease))
	return row, nil
}

func (s *service) Availability(ctx context.Context, key ItemKey) (*AvailabilityView, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	if view := s.cachedAvailability(ctx, key); view != nil {
		return view, nil
	}

	view := &AvailabilityView{
		LocationID: key.LocationID,
		SKU:        key.SKU,
		VariantID:  key.VariantID,
	}
	row, err := s.repo.Get(ctx, key)
	switch {
	case err == nil:
		view.OnHand = row.OnHand
		view.Reserved = row.Reserved
		view.Available = row.Available()
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Unknown rows read as zero; the ledger creates rows lazily.
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock row")
	}

	s.cacheAvailability(ctx, key, view)
	return view, nil
}

func (s *service) ListLevels(ctx context.Context, locationID uuid.UUID, limit int, afterSKU string) ([]models.StockLevel, error) {
	if locationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location id required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.repo.List(ctx, locationID, limit, afterSKU)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock levels")
	}
	return rows, nil
}

func (s *service) record(ctx context.Context, tx *gorm.DB, row *models.StockLevel, kind enums.MovementKind, eventType enums.OutboxEventType, quantity int, reason, reference string, actor authz.Principal) error {
	movement := &models.StockMovement{
		LocationID:  row.LocationID,
		SKU:         row.SKU,
		VariantID:   row.VariantID,
		Kind:        kind,
		Quantity:    quantity,
		Reason:      reason,
		Reference:   reference,
		ActorUserID: actor.UserID,
	}
	if err := s.movements.WithTx(tx).Create(ctx, movement); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock movement")
	}

	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.OutboxAggregateStockLevel,
		AggregateID:   row.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
		Data: StockChangedEvent{
			LocationID: row.LocationID,
			SKU:        row.SKU,
			VariantID:  row.VariantID,
			Kind:       kind,
			Quantity:   quantity,
			OnHand:     row.OnHand,
			Reserved:   row.Reserved,
			Reason:     reason,
			Reference:  reference,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit stock event")
	}
	return nil
}

func (s *service) cachedAvailability(ctx context.Context, key ItemKey) *AvailabilityView {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil
	}
	stored, err := s.cache.Get(ctx, s.availabilityKey(key))
	if err != nil {
		if !errors.Is(err, pkgredis.ErrNotFound) && s.logg != nil {
			s.logg.Warn(ctx, "availability cache read failed")
		}
		return nil
	}
	var view AvailabilityView
	if err := json.Unmarshal([]byte(stored), &view); err != nil {
		return nil
	}
	return &view
}

func (s *service) cacheAvailability(ctx context.Context, key ItemKey, view *AvailabilityView) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.availabilityKey(key), string(payload), s.cacheTTL); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "availability cache write failed")
	}
}

func (s *service) invalidateAvailability(ctx context.Context, key ItemKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.availabilityKey(key)); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "availability cache invalidation failed")
	}
}

func (s *service) availabilityKey(key ItemKey) string {
	return s.cache.AvailabilityKey(key.LocationID.String(), key.SKU, key.VariantID)
}

func validateKey(key ItemKey) error {
	if key.LocationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "location id required")
	}
	if strings.TrimSpace(key.SKU) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sku required")
	}
	return nil
}
