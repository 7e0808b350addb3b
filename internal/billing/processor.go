package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"halocore/internal/license"
	"halocore/internal/store"
)

// keyAttempts bounds retries when a generated license key collides.
const keyAttempts = 5

// Processor applies billing notifications to the license store.
type Processor struct {
	store  store.Store
	secret string
	logger *slog.Logger
	now    func() time.Time
}

// NewProcessor creates a webhook processor. secret is the shared webhook
// signing secret configured at the provider.
func NewProcessor(s store.Store, secret string, logger *slog.Logger) *Processor {
	return &Processor{
		store:  s,
		secret: secret,
		logger: logger.With(slog.String("component", "billing")),
		now:    time.Now,
	}
}

// HandleNotification is the full webhook pipeline: audit-log the raw body,
// authenticate it, parse it, and dispatch. The audit row is written before
// authentication so rejected notifications are still visible for forensics.
func (p *Processor) HandleNotification(ctx context.Context, raw []byte, signature string) error {
	if err := p.store.LogWebhook(ctx, Provider, EventNameOf(raw), raw, p.now()); err != nil {
		// Audit logging must not block event processing.
		p.logger.ErrorContext(ctx, "failed to log webhook notification",
			slog.String("error", err.Error()))
	}

	if !VerifySignature(raw, signature, p.secret) {
		p.logger.WarnContext(ctx, "webhook signature verification failed")
		return ErrBadSignature
	}

	ev, err := ParseEvent(raw)
	if err != nil {
		return err
	}

	return p.Process(ctx, ev)
}

// Process dispatches one authenticated event. Replays are safe: stored
// effects are keyed on the subscription id and "already in target state" is
// treated as success.
func (p *Processor) Process(ctx context.Context, ev *Event) error {
	logger := p.logger.With(
		slog.String("event", string(ev.Name)),
		slog.String("subscription_id", ev.SubscriptionID),
	)

	switch ev.Name {
	case EventSubscriptionCreated:
		return p.handleCreated(ctx, ev, logger)
	case EventSubscriptionCancelled:
		return p.handleCancelled(ctx, ev, logger)
	case EventSubscriptionExpired:
		return p.handleExpired(ctx, ev, logger)
	case EventSubscriptionResumed:
		return p.handleResumed(ctx, ev, logger)
	case EventSubscriptionUpdated:
		logger.InfoContext(ctx, "subscription updated",
			slog.String("status", ev.Attributes.Status),
			slog.String("variant", ev.Attributes.VariantName))
		return nil
	default:
		// Unknown tags are rejected explicitly as a logged no-op, never
		// silently dropped and never an error (the provider would retry).
		logger.WarnContext(ctx, "unhandled webhook event")
		return nil
	}
}

func (p *Processor) handleCreated(ctx context.Context, ev *Event, logger *slog.Logger) error {
	if ev.Attributes.UserEmail == "" {
		return errors.New("subscription_created event has no email")
	}

	// Replay guard: one license per subscription.
	if existing, err := p.store.GetBySubscription(ctx, ev.SubscriptionID); err == nil {
		logger.InfoContext(ctx, "license already exists for subscription, skipping",
			slog.String("license_id", existing.ID))
		return nil
	} else if !errors.Is(err, license.ErrNotFound) {
		return fmt.Errorf("failed to check for existing license: %w", err)
	}

	personality := license.DefaultPersonality
	if v := license.Personality(ev.Attributes.VariantName); v.Valid() {
		personality = v
	}

	now := p.now()
	l := &license.License{
		ID:             uuid.New().String(),
		Email:          ev.Attributes.UserEmail,
		Status:         license.StatusActive,
		Personality:    personality,
		SubscriptionID: ev.SubscriptionID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 0; attempt < keyAttempts; attempt++ {
		key, err := license.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate license key: %w", err)
		}
		l.Key = key

		err = p.store.Create(ctx, l)
		if err == nil {
			logger.InfoContext(ctx, "license created from subscription",
				slog.String("license_id", l.ID),
				slog.String("email", l.Email))
			return nil
		}
		// A concurrent replay can slip past the read-side guard above; the
		// store's unique subscription constraint catches it, and losing that
		// race means the license already exists.
		if errors.Is(err, license.ErrDuplicateSubscription) {
			logger.InfoContext(ctx, "license already exists for subscription, skipping")
			return nil
		}
		if !errors.Is(err, license.ErrDuplicateKey) {
			return fmt.Errorf("failed to create license: %w", err)
		}
	}

	return fmt.Errorf("failed to create license after %d key attempts", keyAttempts)
}

func (p *Processor) handleCancelled(ctx context.Context, ev *Event, logger *slog.Logger) error {
	l, err := p.store.GetBySubscription(ctx, ev.SubscriptionID)
	if errors.Is(err, license.ErrNotFound) {
		logger.WarnContext(ctx, "cancellation for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	if err := license.ScheduleCancellation(l, ev.Attributes.EndsAt, p.now()); err != nil {
		if errors.Is(err, license.ErrRevoked) {
			logger.InfoContext(ctx, "cancellation for revoked license, ignoring")
			return nil
		}
		return err
	}
	if err := p.store.Update(ctx, l); err != nil {
		return fmt.Errorf("failed to schedule cancellation: %w", err)
	}

	logger.InfoContext(ctx, "subscription cancelled, license expiry scheduled",
		slog.String("license_id", l.ID))
	return nil
}

func (p *Processor) handleExpired(ctx context.Context, ev *Event, logger *slog.Logger) error {
	l, err := p.store.GetBySubscription(ctx, ev.SubscriptionID)
	if errors.Is(err, license.ErrNotFound) {
		logger.WarnContext(ctx, "expiry for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	if err := license.Suspend(l, p.now()); err != nil {
		if errors.Is(err, license.ErrAlreadySuspended) || errors.Is(err, license.ErrRevoked) {
			logger.InfoContext(ctx, "license already suspended or revoked, skipping",
				slog.String("license_id", l.ID))
			return nil
		}
		return err
	}
	if err := p.store.Update(ctx, l); err != nil {
		return fmt.Errorf("failed to suspend license: %w", err)
	}

	logger.InfoContext(ctx, "subscription expired, license suspended",
		slog.String("license_id", l.ID))
	return nil
}

func (p *Processor) handleResumed(ctx context.Context, ev *Event, logger *slog.Logger) error {
	l, err := p.store.GetBySubscription(ctx, ev.SubscriptionID)
	if errors.Is(err, license.ErrNotFound) {
		logger.WarnContext(ctx, "resume for unknown subscription, ignoring")
		return nil
	}
	if err != nil {
		return err
	}

	if err := license.Reactivate(l, p.now()); err != nil {
		if errors.Is(err, license.ErrNotSuspended) {
			logger.InfoContext(ctx, "license already active, skipping",
				slog.String("license_id", l.ID))
			return nil
		}
		if errors.Is(err, license.ErrRevoked) {
			logger.WarnContext(ctx, "resume for revoked license, ignoring",
				slog.String("license_id", l.ID))
			return nil
		}
		return err
	}
	if err := p.store.Update(ctx, l); err != nil {
		return fmt.Errorf("failed to reactivate license: %w", err)
	}

	logger.InfoContext(ctx, "subscription resumed, license reactivated",
		slog.String("license_id", l.ID))
	return nil
}
