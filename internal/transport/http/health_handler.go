package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"keybind/internal/license"
	"keybind/pkg/contracts"
	api "keybind/pkg/contracts/api/v1"
)

// ProbeKey is read by the health check on stores that cannot be pinged.
const ProbeKey = "__keybind_healthz__"

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports store reachability.
type HealthHandler struct {
	store   license.Store
	backend string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store license.Store, backend string, timeout time.Duration, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:   store,
		backend: backend,
		timeout: timeout,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /healthz
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := api.HealthResponse{
		Status:  "ok",
		Store:   h.backend,
		Version: contracts.Version,
	}

	if err := h.check(ctx); err != nil {
		h.logger.WarnContext(ctx, "store health check failed",
			slog.String("backend", h.backend),
			slog.String("error", err.Error()))
		resp.Status = "unavailable"
		resp.Error = err.Error()
		render.Status(r, http.StatusServiceUnavailable)
	}

	render.JSON(w, r, resp)
}

func (h *HealthHandler) check(ctx context.Context) error {
	if p, ok := h.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, _, err := h.store.Get(ctx, ProbeKey)
	return err
}
