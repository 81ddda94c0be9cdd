package movements

import (
	"context"
	"fmt"

	"github.com/danielreynoso/stockroom-backend/pkg/db/models"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

// Service exposes the movement log read side.
type Service interface {
	List(ctx context.Context, input ListInput) (*ListResult, error)
}

type service struct {
	repo Repository
}

// ListInput carries the listing filter plus cursor pagination parameters.
type ListInput struct {
	Filter Filter
	Params pagination.Params
}

// ListResult is one page of movements plus the cursor for the next page.
type ListResult struct {
	Movements  []models.StockMovement
	NextCursor string
}

// NewService wires the movement read service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("movements repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(input.Params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(input.Params.Limit)
	rows, err := s.repo.List(ctx, input.Filter, limit+1, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock movements")
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
	result.Movements = rows
	return result, nil
}
