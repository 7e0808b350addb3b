package infrastructure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusinessMetrics holds the application-specific instruments.
type BusinessMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	ActivationAttempts  metric.Int64Counter
	ActivationSuccess   metric.Int64Counter
	ActivationConflicts metric.Int64Counter
	HeartbeatsTotal     metric.Int64Counter
	GraceWarnings       metric.Int64Counter
	GraceBlocks         metric.Int64Counter
	WebhookEvents       metric.Int64Counter
	WebhookRejections   metric.Int64Counter
}

// CreateBusinessMetrics creates the application instrument set.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	m := &BusinessMetrics{}
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.ActivationAttempts, err = meter.Int64Counter(
		"license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts"),
	); err != nil {
		return nil, err
	}
	if m.ActivationSuccess, err = meter.Int64Counter(
		"license_activation_success_total",
		metric.WithDescription("Total number of successful license activations"),
	); err != nil {
		return nil, err
	}
	if m.ActivationConflicts, err = meter.Int64Counter(
		"license_activation_conflicts_total",
		metric.WithDescription("Total number of activations rejected because the device slot was taken"),
	); err != nil {
		return nil, err
	}
	if m.HeartbeatsTotal, err = meter.Int64Counter(
		"license_heartbeats_total",
		metric.WithDescription("Total number of heartbeat calls"),
	); err != nil {
		return nil, err
	}
	if m.GraceWarnings, err = meter.Int64Counter(
		"license_grace_warnings_total",
		metric.WithDescription("Heartbeats answered with a grace-period warning"),
	); err != nil {
		return nil, err
	}
	if m.GraceBlocks, err = meter.Int64Counter(
		"license_grace_blocks_total",
		metric.WithDescription("Heartbeats blocked after the grace period ended"),
	); err != nil {
		return nil, err
	}
	if m.WebhookEvents, err = meter.Int64Counter(
		"billing_webhook_events_total",
		metric.WithDescription("Billing webhook notifications processed"),
	); err != nil {
		return nil, err
	}
	if m.WebhookRejections, err = meter.Int64Counter(
		"billing_webhook_rejections_total",
		metric.WithDescription("Billing webhook notifications rejected"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records one served request.
func (m *BusinessMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordActivation records an activation attempt and its outcome.
func (m *BusinessMetrics) RecordActivation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	switch outcome {
	case "success":
		m.ActivationSuccess.Add(ctx, 1)
	case "conflict":
		m.ActivationConflicts.Add(ctx, 1)
	}
}

// RecordHeartbeat records one heartbeat call and its policy outcome.
func (m *BusinessMetrics) RecordHeartbeat(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	switch action {
	case "warn":
		m.GraceWarnings.Add(ctx, 1)
	case "block":
		m.GraceBlocks.Add(ctx, 1)
	}
}

// RecordWebhook records a billing notification, accepted or rejected.
func (m *BusinessMetrics) RecordWebhook(ctx context.Context, eventName string, accepted bool) {
	if m == nil {
		return
	}
	m.WebhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventName)))
	if !accepted {
		m.WebhookRejections.Add(ctx, 1)
	}
}
