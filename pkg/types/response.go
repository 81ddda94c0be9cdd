// Package types defines the JSON envelopes every stockroom API response is
// wrapped in. Handlers never write bare payloads: success bodies sit under
// "data" and failures under "error", so clients can branch on shape alone.
package types

// SuccessEnvelope wraps a successful response payload.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-facing error body. Code is a stable machine-readable
// identifier (e.g. INSUFFICIENT_STOCK, IDEMPOTENCY_KEY_REUSED); Details is
// only populated for codes whose metadata allows leaking specifics.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps an APIError for transport.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
