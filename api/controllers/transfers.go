package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/danielreynoso/stockroom-backend/api/middleware"
	"github.com/danielreynoso/stockroom-backend/api/responses"
	"github.com/danielreynoso/stockroom-backend/api/validators"
	"github.com/danielreynoso/stockroom-backend/internal/transfers"
	"github.com/danielreynoso/stockroom-backend/pkg/enums"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
	"github.com/danielreynoso/stockroom-backend/pkg/pagination"
)

type transferLineRequest struct {
	SKU       string `json:"sku" validate:"required"`
	VariantID string `json:"variantId,omitempty"`
	Qty       int    `json:"qty" validate:"required,gt=0"`
}

type createTransferRequest struct {
	Code           string                `json:"code,omitempty"`
	FromLocationID uuid.UUID             `json:"fromLocationId" validate:"required"`
	ToLocationID   uuid.UUID             `json:"toLocationId" validate:"required"`
	Lines          []transferLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// TransferCreate opens a transfer order between two locations.
func TransferCreate(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createTransferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		lines := make([]transfers.LineInput, 0, len(payload.Lines))
		for _, line := range payload.Lines {
			lines = append(lines, transfers.LineInput{
				SKU:       line.SKU,
				VariantID: line.VariantID,
				Qty:       line.Qty,
			})
		}

		transfer, err := svc.Create(r.Context(), transfers.CreateInput{
			Code:           payload.Code,
			FromLocationID: payload.FromLocationID,
			ToLocationID:   payload.ToLocationID,
			Lines:          lines,
			Actor:          middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{"transfer": toTransferView(transfer)})
	}
}

// TransferApprove gates the transfer and reserves the ordered quantities at
// the source location.
func TransferApprove(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferAction(logg, func(r *http.Request, id uuid.UUID) (any, error) {
		transfer, err := svc.Approve(r.Context(), transfers.ActionInput{
			TransferID: id,
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			return nil, err
		}
		return toTransferView(transfer), nil
	})
}

type pickTransferRequest struct {
	Picks []transferLineRequest `json:"picks" validate:"required,min=1,dive"`
}

// TransferPick accumulates picked quantities on the transfer's lines.
func TransferPick(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferAction(logg, func(r *http.Request, id uuid.UUID) (any, error) {
		var payload pickTransferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		transfer, err := svc.Pick(r.Context(), transfers.PickInput{
			TransferID: id,
			Picks:      toTransferQtyInputs(payload.Picks),
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			return nil, err
		}
		return toTransferView(transfer), nil
	})
}

// TransferDispatch moves the picked quantities out of the source location.
func TransferDispatch(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferAction(logg, func(r *http.Request, id uuid.UUID) (any, error) {
		transfer, err := svc.Dispatch(r.Context(), transfers.ActionInput{
			TransferID: id,
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			return nil, err
		}
		return toTransferView(transfer), nil
	})
}

type receiveTransferRequest struct {
	Receipts []transferLineRequest `json:"receipts" validate:"required,min=1,dive"`
}

// TransferReceive books received quantities into the destination location and
// closes the transfer once every line is fully received.
func TransferReceive(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferAction(logg, func(r *http.Request, id uuid.UUID) (any, error) {
		var payload receiveTransferRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		transfer, err := svc.Receive(r.Context(), transfers.ReceiveInput{
			TransferID: id,
			Receipts:   toTransferQtyInputs(payload.Receipts),
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			return nil, err
		}
		return toTransferView(transfer), nil
	})
}

type cancelTransferRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TransferCancel aborts a pre-dispatch transfer, releasing any reservations.
func TransferCancel(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferAction(logg, func(r *http.Request, id uuid.UUID) (any, error) {
		var payload cancelTransferRequest
		if err := validators.DecodeJSONBodyOptional(r, &payload); err != nil {
			return nil, err
		}
		transfer, err := svc.Cancel(r.Context(), transfers.CancelInput{
			TransferID: id,
			Reason:     payload.Reason,
			Actor:      middleware.PrincipalFromContext(r.Context()),
		})
		if err != nil {
			return nil, err
		}
		return toTransferView(transfer), nil
	})
}

// TransferGet loads one transfer with its lines.
func TransferGet(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return transferAction(logg, func(r *http.Request, id uuid.UUID) (any, error) {
		transfer, err := svc.Get(r.Context(), id)
		if err != nil {
			return nil, err
		}
		return toTransferView(transfer), nil
	})
}

// TransferList pages through transfers newest-first.
func TransferList(svc transfers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fromLocationID, err := validators.ParseQueryUUID(r, "from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		toLocationID, err := validators.ParseQueryUUID(r, "to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), transfers.ListInput{
			Filter: transfers.ListFilter{
				Status:         enums.TransferStatus(validators.ParseQueryString(r, "status")),
				FromLocationID: fromLocationID,
				ToLocationID:   toLocationID,
			},
			Params: pagination.Params{
				Limit:  limit,
				Cursor: validators.ParseQueryString(r, "cursor"),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		body := map[string]any{"transfers": toTransferViews(result.Transfers)}
		if result.NextCursor != "" {
			body["nextCursor"] = result.NextCursor
		}
		responses.WriteSuccess(w, body)
	}
}

func transferAction(logg *logger.Logger, run func(r *http.Request, id uuid.UUID) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParsePathUUID(chi.URLParam(r, "transferID"), "transferID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := run(r, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"transfer": view})
	}
}

func toTransferQtyInputs(lines []transferLineRequest) []transfers.QtyInput {
	inputs := make([]transfers.QtyInput, 0, len(lines))
	for _, line := range lines {
		inputs = append(inputs, transfers.QtyInput{
			SKU:       line.SKU,
			VariantID: line.VariantID,
			Qty:       line.Qty,
		})
	}
	return inputs
}
