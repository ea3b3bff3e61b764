// Package errors maps activation failures onto the HTTP response contract.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/render"

	"keybind/internal/license"
)

// APIError is a failed response body with its HTTP status.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"-"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements render.Renderer
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new API error
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// Predefined errors
var (
	ErrInvalidRequest     = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request: activation_key and device_id are required.")
	ErrKeyNotFound        = New(http.StatusNotFound, "KEY_NOT_FOUND", "Activation failed: Invalid activation key.")
	ErrActivatedElsewhere = New(http.StatusForbidden, "ACTIVATED_ELSEWHERE", "Activation failed: Key already activated on another device.")
	ErrStoreUnavailable   = New(http.StatusInternalServerError, "STORE_UNAVAILABLE", "Internal server error: activation store unavailable.")
	ErrEndpointNotFound   = New(http.StatusNotFound, "ENDPOINT_NOT_FOUND", "API endpoint not found.")
)

// FromActivation returns the failure response for an activation, or nil when
// the outcome is a success.
func FromActivation(outcome license.Outcome, err error) *APIError {
	if err != nil {
		if stderrors.Is(err, license.ErrInvalidRequest) {
			return ErrInvalidRequest
		}
		return ErrStoreUnavailable
	}

	switch outcome {
	case license.OutcomeActivated, license.OutcomeAlreadyActivated:
		return nil
	case license.OutcomeKeyNotFound:
		return ErrKeyNotFound
	case license.OutcomeActivatedElsewhere:
		return ErrActivatedElsewhere
	default:
		return ErrStoreUnavailable
	}
}

// WriteError writes err as a JSON response. Errors that are not an APIError
// are reported as a store failure.
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		apiErr = ErrStoreUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	_ = json.NewEncoder(w).Encode(apiErr)
}
