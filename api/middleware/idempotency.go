package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/danielreynoso/stockroom-backend/api/responses"
	"github.com/danielreynoso/stockroom-backend/internal/idempotency"
	pkgerrors "github.com/danielreynoso/stockroom-backend/pkg/errors"
	"github.com/danielreynoso/stockroom-backend/pkg/logger"
)

// Server errors are never stored; the claim is released so the client can
// retry with the same key.
var errResponseNotStored = errors.New("response not stored")

const replayedHeader = "Idempotency-Replayed"

// Idempotency wraps mutating routes so each Idempotency-Key executes the
// handler at most once. Completed responses are replayed verbatim; a key
// reused with a different request payload is rejected.
func Idempotency(store *idempotency.Store, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			// The fingerprint hashes the concrete path: path params (the
			// transfer id) are part of the request identity, so one key
			// reused against a different target is a conflict, never a
			// replay. The scope stays coarse for the same reason — both
			// requests must land on one record for the mismatch to surface.
			fingerprint := idempotency.Fingerprint(r.Method, r.URL.Path, body)
			scope := buildScope(r)

			var capture *responseCapture
			outcome, err := store.Execute(r.Context(), scope, key, fingerprint, func(ctx context.Context) (idempotency.Result, error) {
				capture = newResponseCapture()
				next.ServeHTTP(capture, r.WithContext(ctx))
				status := capture.status
				if status == 0 {
					status = http.StatusOK
				}
				if status >= http.StatusInternalServerError {
					return idempotency.Result{}, errResponseNotStored
				}
				return idempotency.Result{Status: status, Body: capture.body.Bytes()}, nil
			})
			if err != nil {
				if errors.Is(err, errResponseNotStored) && capture != nil {
					capture.flush(w)
					return
				}
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			if outcome.Replayed {
				w.Header().Set(replayedHeader, "true")
				responses.WriteRaw(w, outcome.Result.Status, outcome.Result.Body)
				return
			}
			capture.flush(w)
		})
	}
}

func buildScope(r *http.Request) string {
	principal := PrincipalFromContext(r.Context())
	return strings.Join([]string{principal.UserID.String(), r.Method}, "|")
}

type responseCapture struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseCapture() *responseCapture {
	return &responseCapture{header: http.Header{}}
}

func (r *responseCapture) Header() http.Header {
	return r.header
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

func (r *responseCapture) flush(w http.ResponseWriter) {
	for k, values := range r.header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(r.body.Bytes())
}
