package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "keybind/internal/errors"
	"keybind/internal/license"
	api "keybind/pkg/contracts/api/v1"
)

// Activator binds activation keys to devices.
type Activator interface {
	Activate(ctx context.Context, key, deviceID string) (license.Result, error)
}

// ActivationHandler handles POST /activate
type ActivationHandler struct {
	activator      Activator
	validate       *validator.Validate
	logger         *slog.Logger
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// ActivationHandlerOption configures an ActivationHandler.
type ActivationHandlerOption func(*ActivationHandler)

// WithRequestTimeout bounds one activation end to end.
func WithRequestTimeout(d time.Duration) ActivationHandlerOption {
	return func(h *ActivationHandler) {
		h.requestTimeout = d
	}
}

// WithMaxBodyBytes caps the request body size.
func WithMaxBodyBytes(n int64) ActivationHandlerOption {
	return func(h *ActivationHandler) {
		h.maxBodyBytes = n
	}
}

// NewActivationHandler creates a new activation handler
func NewActivationHandler(activator Activator, logger *slog.Logger, opts ...ActivationHandlerOption) *ActivationHandler {
	h := &ActivationHandler{
		activator:      activator,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		logger:         logger.With(slog.String("handler", "activation")),
		requestTimeout: 15 * time.Second,
		maxBodyBytes:   64 << 10,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Activate handles POST /activate
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := h.decode(w, r)
	if err != nil {
		h.logger.DebugContext(ctx, "rejected activation request", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInvalidRequest)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	res, err := h.activator.Activate(ctx, req.ActivationKey, req.DeviceID)
	if apiErr := apierrors.FromActivation(res.Outcome, err); apiErr != nil {
		if apiErr.StatusCode >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "activation failed",
				slog.String("error_code", apiErr.ErrorCode),
				slog.Any("error", err))
		}
		render.Render(w, r, apiErr)
		return
	}

	message := api.MessageActivated
	if res.Outcome == license.OutcomeAlreadyActivated {
		message = api.MessageAlreadyActivated
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, api.ActivationResponse{Success: true, Message: message})
}

// decode reads and validates the request body.
func (h *ActivationHandler) decode(w http.ResponseWriter, r *http.Request) (api.ActivationRequest, error) {
	var req api.ActivationRequest

	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return req, err
	}
	return req, h.validate.Struct(req)
}
