package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "halocore/internal/errors"
	"halocore/internal/infrastructure"
	"halocore/internal/license"
	"halocore/internal/services"
)

var validate = validator.New()

// LicenseHandler handles the client-facing license endpoints.
type LicenseHandler struct {
	service      services.LicenseService
	errorHandler *apierrors.ErrorHandler
	metrics      *infrastructure.BusinessMetrics
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, eh *apierrors.ErrorHandler, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		errorHandler: eh,
		metrics:      metrics,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// ActivateRequest is the activation payload sent by the desktop client.
type ActivateRequest struct {
	LicenseKey        string `json:"license_key" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"required"`
	DeviceName        string `json:"device_name"`
	AppVersion        string `json:"app_version"`
}

// HeartbeatRequest is the periodic liveness payload.
type HeartbeatRequest struct {
	LicenseKey        string   `json:"license_key" validate:"required"`
	DeviceFingerprint string   `json:"device_fingerprint" validate:"required"`
	AppVersion        string   `json:"app_version"`
	OSInfo            string   `json:"os_info"`
	Capabilities      []string `json:"installed_capabilities"`
	LLMProvider       string   `json:"llm_provider"`
}

// DeactivateRequest releases the caller's device binding.
type DeactivateRequest struct {
	LicenseKey        string `json:"license_key" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint" validate:"required"`
}

// PersonalityRequest selects the companion personality for an owner. The
// license key authenticates the request: only the holder of a key owned by
// the email may change that owner's personality.
type PersonalityRequest struct {
	LicenseKey  string `json:"license_key" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Personality string `json:"personality" validate:"required"`
}

// Routes returns a chi router for the license endpoints.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/activate", h.Activate)
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/deactivate", h.Deactivate)
	r.Get("/status", h.Status)
	r.Put("/personality", h.UpdatePersonality)

	return r
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/activate"),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req ActivateRequest
	if !h.decode(w, r, &req) {
		return
	}

	span.SetAttributes(attribute.String("license.key_prefix", maskKey(req.LicenseKey)))

	resp, err := h.service.Activate(ctx, services.ActivateRequest{
		LicenseKey:        req.LicenseKey,
		DeviceFingerprint: req.DeviceFingerprint,
		DeviceName:        req.DeviceName,
		AppVersion:        req.AppVersion,
	})
	if err != nil {
		span.RecordError(err)
		h.metrics.RecordActivation(ctx, activationOutcome(err))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("license.result", "success"))
	h.metrics.RecordActivation(ctx, "success")

	render.JSON(w, r, resp)
}

// Heartbeat handles POST /api/license/heartbeat. Policy outcomes, including
// grace warnings and blocks, are 200 responses the client reacts to; only
// unknown keys and foreign devices are errors.
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("license-handler")

	ctx, span := tracer.Start(ctx, "license_handler.heartbeat",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/license/heartbeat"),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	var req HeartbeatRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.Heartbeat(ctx, services.HeartbeatRequest{
		LicenseKey:        req.LicenseKey,
		DeviceFingerprint: req.DeviceFingerprint,
		AppVersion:        req.AppVersion,
		OSInfo:            req.OSInfo,
		Capabilities:      req.Capabilities,
		LLMProvider:       req.LLMProvider,
	})
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	action := "ok"
	if resp.Action != "" {
		action = string(resp.Action)
	}
	span.SetAttributes(
		attribute.Bool("license.valid", resp.Valid),
		attribute.String("license.action", action),
	)
	h.metrics.RecordHeartbeat(ctx, action)

	render.JSON(w, r, resp)
}

// Deactivate handles POST /api/license/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DeactivateRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.Deactivate(ctx, req.LicenseKey, req.DeviceFingerprint); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{"success": true})
}

// Status handles GET /api/license/status. The key arrives as a query
// parameter so the endpoint stays cacheable-by-nobody but curl-friendly.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key := r.URL.Query().Get("key")
	if key == "" {
		h.errorHandler.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
			{Field: "key", Message: "key query parameter is required"},
		}))
		return
	}

	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := h.service.Status(statusCtx, key)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, resp)
}

// UpdatePersonality handles PUT /api/license/personality.
func (h *LicenseHandler) UpdatePersonality(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PersonalityRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.service.UpdatePersonality(ctx, req.LicenseKey, req.Email, license.Personality(req.Personality))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"success":     true,
		"personality": req.Personality,
	})
}

// decode unmarshals and validates a request body, answering the error
// response itself. Returns false when the request was already answered.
func (h *LicenseHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := render.Decode(r, v); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return false
	}
	if err := validate.Struct(v); err != nil {
		h.errorHandler.HandleError(w, r, validationProblem(err))
		return false
	}
	return true
}

// validationProblem converts validator field errors to an APIError.
func validationProblem(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierrors.InvalidRequestWithError(err)
	}

	fields := make([]apierrors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: "failed on the '" + fe.Tag() + "' rule",
		})
	}
	return apierrors.NewValidationErrors(fields)
}

// activationOutcome classifies an activation error for metrics.
func activationOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, license.ErrDeviceConflict):
		return "conflict"
	default:
		return "failure"
	}
}

// maskKey masks a license key for span attributes and logs.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
