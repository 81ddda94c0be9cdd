package controllers

import (
	"net/http"

	"github.com/danielreynoso/stockroom-backend/api/responses"
	"github.com/danielreynoso/stockroom-backend/api/validators"
	"github.com/danielreynoso/stockroom-backend/internal/movements"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

// MovementList pages through the audit log newest-first.
func MovementList(svc movements.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID, err := validators.ParseQueryUUID(r, "locationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := movements.Filter{
			LocationID: locationID,
			SKU:        validators.ParseQueryString(r, "sku"),
			Reference:  validators.ParseQueryString(r, "reference"),
		}
		if variant := validators.ParseQueryString(r, "variantId"); variant != "" {
			filter.VariantID = &variant
		}

		result, err := svc.List(r.Context(), movements.ListInput{
			Filter: filter,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: validators.ParseQueryString(r, "cursor"),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		body := map[string]any{"movements": toMovementViews(result.Movements)}
		if result.NextCursor != "" {
			body["nextCursor"] = result.NextCursor
		}
		responses.WriteSuccess(w, body)
	}
}
