package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/danielreynoso/stockroom-backend/api/responses"
	"github.com/danielreynoso/stockroom-backend/internal/idempotency"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
)

// IdempotencyForget deletes a stored idempotency record so a client that lost
// its response can re-run the request. Operator tooling only.
func IdempotencyForget(store *idempotency.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope := strings.TrimSpace(r.URL.Query().Get("scope"))
		if scope == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "scope is required"))
			return
		}
		key := chi.URLParam(r, "key")

		if err := store.Forget(r.Context(), scope, key); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}
