package transfers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

// ListFilter narrows a transfer listing. Zero values mean "any".
type ListFilter struct {
	Status         enums.TransferStatus
	FromLocationID uuid.UUID
	ToLocationID   uuid.UUID
}

// Repository manages persistence for transfer aggregates. Line quantity
// mutations are conditional updates; a false return means the monotonicity
// guard failed and nothing was written.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, transfer *models.Transfer) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error)
	List(ctx context.Context, filter ListFilter, limit int, cursor *pagination.Cursor) ([]models.Transfer, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.TransferStatus, to enums.TransferStatus, updatedBy uuid.UUID, cancelReason *string) (bool, error)
	AddPicked(ctx context.Context, lineID uuid.UUID, qty int) (bool, error)
	AddReceived(ctx context.Context, lineID uuid.UUID, qty int) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transfer repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, transfer *models.Transfer) error {
	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	for i := range transfer.Lines {
		if transfer.Lines[i].ID == uuid.Nil {
			transfer.Lines[i].ID = uuid.New()
		}
		transfer.Lines[i].TransferID = transfer.ID
	}
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transfer, error) {
	var transfer models.Transfer
	err := r.db.WithContext(ctx).
		Preload("Lines").
		First(&transfer, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, limit int, cursor *pagination.Cursor) ([]models.Transfer, error) {
	query := r.db.WithContext(ctx).Model(&models.Transfer{}).Preload("Lines")

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.FromLocationID != uuid.Nil {
		query = query.Where("from_location_id = ?", filter.FromLocationID)
	}
	if filter.ToLocationID != uuid.Nil {
		query = query.Where("to_location_id = ?", filter.ToLocationID)
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Transfer
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// UpdateStatus transitions the header only when the current status is one of
// the expected source states, so racing transitions resolve to one winner.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.TransferStatus, to enums.TransferStatus, updatedBy uuid.UUID, cancelReason *string) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_by": updatedBy,
	}
	if cancelReason != nil {
		updates["cancel_reason"] = *cancelReason
	}
	res := r.db.WithContext(ctx).
		Model(&models.Transfer{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddPicked accumulates picked quantity without ever exceeding the ordered quantity.
func (r *repository) AddPicked(ctx context.Context, lineID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE transfer_lines
		SET picked = picked + ?
		WHERE id = ? AND picked + ? <= qty
	`, qty, lineID, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AddReceived accumulates received quantity without ever exceeding picked.
func (r *repository) AddReceived(ctx context.Context, lineID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE transfer_lines
		SET received = received + ?
		WHERE id = ? AND received + ? <= picked
	`, qty, lineID, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
