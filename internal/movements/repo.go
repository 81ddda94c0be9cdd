package movements

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

// Filter narrows a movement listing. Zero values mean "any".
type Filter struct {
	LocationID uuid.UUID
	SKU        string
	VariantID  *string
	Reference  string
}

// ReservedTotal is the net quantity still reserved for one row under a
// reference, derived from the movement log.
type ReservedTotal struct {
	SKU       string
	VariantID string
	Qty       int
}

// Repository manages persistence for the append-only movement log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, movement *models.StockMovement) error
	List(ctx context.Context, filter Filter, limit int, cursor *pagination.Cursor) ([]models.StockMovement, error)
	OutstandingReservations(ctx context.Context, locationID uuid.UUID, reference string) ([]ReservedTotal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a movement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, movement *models.StockMovement) error {
	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) List(ctx context.Context, filter Filter, limit int, cursor *pagination.Cursor) ([]models.StockMovement, error) {
	query := r.db.WithContext(ctx).Model(&models.StockMovement{})

	if filter.LocationID != uuid.Nil {
		query = query.Where("location_id = ?", filter.LocationID)
	}
	if filter.SKU != "" {
		query = query.Where("sku = ?", filter.SKU)
	}
	if filter.VariantID != nil {
		query = query.Where("variant_id = ?", *filter.VariantID)
	}
	if filter.Reference != "" {
		query = query.Where("reference = ?", filter.Reference)
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.StockMovement
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// OutstandingReservations sums reserve and release movements per row for a
// reference. Release movements carry negative quantities, so the plain sum is
// the net amount still held.
func (r *repository) OutstandingReservations(ctx context.Context, locationID uuid.UUID, reference string) ([]ReservedTotal, error) {
	var totals []ReservedTotal
	err := r.db.WithContext(ctx).
		Model(&models.StockMovement{}).
		Select("sku, variant_id, SUM(quantity) AS qty").
		Where("location_id = ? AND reference = ? AND kind IN ?", locationID, reference, []string{
			string(enums.MovementKindReserve),
			string(enums.MovementKindRelease),
		}).
		Group("sku, variant_id").
		Having("SUM(quantity) > 0").
		Order("sku, variant_id").
		Scan(&totals).Error
	return totals, err
}
