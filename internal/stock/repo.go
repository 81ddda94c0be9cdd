package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
)

// ItemKey identifies one ledger row.
type ItemKey struct {
	LocationID uuid.UUID
	SKU        string
	VariantID  string
}

// Repository manages persistence for stock ledger rows. The mutation methods
// are conditional single-statement updates; a false return means the guard
// predicate failed and nothing was written.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, key ItemKey) (*models.StockLevel, error)
	List(ctx context.Context, locationID uuid.UUID, limit int, afterSKU string) ([]models.StockLevel, error)
	EnsureRow(ctx context.Context, key ItemKey) error
	AddOnHand(ctx context.Context, key ItemKey, delta int) (bool, error)
	AddReserved(ctx context.Context, key ItemKey, qty int) (bool, error)
	SubReserved(ctx context.Context, key ItemKey, qty int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, key ItemKey) (*models.StockLevel, error) {
	var row models.StockLevel
	err := r.db.WithContext(ctx).
		Where("location_id = ? AND sku = ? AND variant_id = ?", key.LocationID, key.SKU, key.VariantID).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) List(ctx context.Context, locationID uuid.UUID, limit int, afterSKU string) ([]models.StockLevel, error) {
	query := r.db.WithContext(ctx).
		Where("location_id = ?", locationID)
	if afterSKU != "" {
		query = query.Where("sku > ?", afterSKU)
	}

	var rows []models.StockLevel
	err := query.
		Order("sku ASC").
		Order("variant_id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// EnsureRow creates a zero-quantity ledger row if none exists so the
// conditional updates always have a target.
func (r *repository) EnsureRow(ctx context.Context, key ItemKey) error {
	row := models.StockLevel{
		ID:         uuid.New(),
		LocationID: key.LocationID,
		SKU:        key.SKU,
		VariantID:  key.VariantID,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "location_id"}, {Name: "sku"}, {Name: "variant_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

// AddOnHand applies a signed on-hand delta. The guard keeps on-hand from
// going negative; reserved may temporarily exceed on-hand after a negative
// adjustment, which is surfaced to operators rather than blocked.
func (r *repository) AddOnHand(ctx context.Context, key ItemKey, delta int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_levels
		SET on_hand = on_hand + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE location_id = ? AND sku = ? AND variant_id = ?
			AND on_hand + ? >= 0
	`, delta, key.LocationID, key.SKU, key.VariantID, delta)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddReserved grants a reservation only when enough unreserved stock exists.
func (r *repository) AddReserved(ctx context.Context, key ItemKey, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_levels
		SET reserved = reserved + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE location_id = ? AND sku = ? AND variant_id = ?
			AND on_hand - reserved >= ?
	`, qty, key.LocationID, key.SKU, key.VariantID, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SubReserved returns reserved quantity to the available pool.
func (r *repository) SubReserved(ctx context.Context, key ItemKey, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_levels
		SET reserved = reserved - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE location_id = ? AND sku = ? AND variant_id = ?
			AND reserved >= ?
	`, qty, key.LocationID, key.SKU, key.VariantID, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
