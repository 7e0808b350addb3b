package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"halocore/internal/infrastructure"
	"halocore/internal/store"
)

// HealthHandler answers liveness and readiness checks.
type HealthHandler struct {
	store     store.Store
	logger    *slog.Logger
	startedAt time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(s store.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:     s,
		logger:    logger.With(slog.String("handler", "health")),
		startedAt: time.Now(),
	}
}

// Routes returns a chi router for the health endpoints.
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Health)
	r.Get("/ready", h.Ready)
	return r
}

// Health handles GET /health. It always answers 200 as long as the
// process is serving; storage state is reported but does not fail the
// check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storage := "ok"
	if err := h.store.Ping(ctx); err != nil {
		storage = "unavailable"
		h.logger.WarnContext(r.Context(), "storage ping failed",
			slog.String("error", err.Error()))
	}

	render.JSON(w, r, map[string]interface{}{
		"status":  "healthy",
		"storage": storage,
		"version": infrastructure.ServiceVersion,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Ready handles GET /health/ready. Unlike Health it fails when storage is
// unreachable, so load balancers stop routing traffic here.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]interface{}{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	render.JSON(w, r, map[string]interface{}{"status": "ready"})
}
