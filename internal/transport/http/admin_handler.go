package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "halocore/internal/errors"
	"halocore/internal/license"
	"halocore/internal/services"
)

// AdminHandler serves the admin control surface. Authentication happens in
// the middleware chain; by the time a request reaches these methods it has
// presented a valid admin API key.
type AdminHandler struct {
	service      services.AdminService
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(service services.AdminService, eh *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:      service,
		errorHandler: eh,
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// CreateLicenseRequest is the manual grant payload.
type CreateLicenseRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Personality string `json:"personality"`
}

// Routes returns a chi router for the admin endpoints.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/licenses", h.ListLicenses)
	r.Post("/licenses", h.CreateLicense)
	r.Post("/licenses/{id}/suspend", h.SuspendLicense)
	r.Post("/licenses/{id}/revoke", h.RevokeLicense)
	r.Get("/stats", h.Stats)

	return r
}

// ListLicenses handles GET /api/admin/licenses.
func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	licenses, err := h.service.List(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"licenses": licenses,
		"count":    len(licenses),
	})
}

// CreateLicense handles POST /api/admin/licenses.
func (h *AdminHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("admin-handler")

	ctx, span := tracer.Start(ctx, "admin_handler.create_license",
		trace.WithAttributes(attribute.String("http.route", "/api/admin/licenses")),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req CreateLicenseRequest
	if err := render.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		h.errorHandler.HandleError(w, r, validationProblem(err))
		return
	}

	l, err := h.service.Create(ctx, req.Email, license.Personality(req.Personality))
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license granted",
		slog.String("license_id", l.ID),
		slog.String("email", req.Email))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, l)
}

// SuspendLicense handles POST /api/admin/licenses/{id}/suspend.
func (h *AdminHandler) SuspendLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	l, err := h.service.SuspendByID(ctx, id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, l)
}

// RevokeLicense handles POST /api/admin/licenses/{id}/revoke.
func (h *AdminHandler) RevokeLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	l, err := h.service.RevokeByID(ctx, id)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, l)
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, stats)
}
