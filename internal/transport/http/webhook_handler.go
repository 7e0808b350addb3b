package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"halocore/internal/billing"
	apierrors "halocore/internal/errors"
	"halocore/internal/infrastructure"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// SignatureHeader carries the billing provider's HMAC signature.
const SignatureHeader = "X-Signature"

// WebhookHandler receives billing provider notifications.
type WebhookHandler struct {
	processor    *billing.Processor
	errorHandler *apierrors.ErrorHandler
	metrics      *infrastructure.BusinessMetrics
	logger       *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(processor *billing.Processor, eh *apierrors.ErrorHandler, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor:    processor,
		errorHandler: eh,
		metrics:      metrics,
		logger:       logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns a chi router for the webhook endpoint.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Receive)
	return r
}

// Receive handles POST /api/webhook. The raw body is needed for signature
// verification, so it is read before any decoding happens.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("webhook-handler")

	ctx, span := tracer.Start(ctx, "webhook_handler.receive",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/webhook"),
		),
	)
	defer span.End()
	r = r.WithContext(ctx)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	eventName := billing.EventNameOf(payload)
	span.SetAttributes(attribute.String("webhook.event", eventName))

	signature := r.Header.Get(SignatureHeader)
	if err := h.processor.HandleNotification(ctx, payload, signature); err != nil {
		span.RecordError(err)
		h.metrics.RecordWebhook(ctx, eventName, false)

		switch {
		case errors.Is(err, billing.ErrBadSignature):
			h.errorHandler.HandleError(w, r, apierrors.New(
				http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed"))
		case errors.Is(err, billing.ErrBadPayload):
			h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		default:
			h.errorHandler.HandleError(w, r, err)
		}
		return
	}

	h.metrics.RecordWebhook(ctx, eventName, true)

	h.logger.InfoContext(ctx, "webhook processed",
		slog.String("event", eventName))

	render.JSON(w, r, map[string]interface{}{"received": true})
}
