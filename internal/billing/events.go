// Package billing translates Lemon Squeezy webhook notifications into
// license lifecycle transitions. Every notification is authenticated with a
// shared-secret HMAC before any state mutation, durably logged for audit and
// replay, and applied idempotently: provider retries never double-create
// licenses or double-apply transitions.
package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider is the audit-log identifier for the billing provider.
const Provider = "lemonsqueezy"

// EventName tags the webhook payload union. Unknown names are accepted,
// logged, and ignored; they are not errors.
type EventName string

const (
	EventSubscriptionCreated   EventName = "subscription_created"
	EventSubscriptionCancelled EventName = "subscription_cancelled"
	EventSubscriptionExpired   EventName = "subscription_expired"
	EventSubscriptionResumed   EventName = "subscription_resumed"
	EventSubscriptionUpdated   EventName = "subscription_updated"
)

// ErrBadSignature is returned when a notification fails the HMAC check.
var ErrBadSignature = errors.New("invalid webhook signature")

// ErrBadPayload is returned when a notification body cannot be parsed into
// a subscription event.
var ErrBadPayload = errors.New("malformed webhook payload")

// Attributes carries the subscription fields this system consumes. The
// provider sends many more; unknown fields are ignored.
type Attributes struct {
	UserEmail   string     `json:"user_email"`
	UserName    string     `json:"user_name"`
	VariantName string     `json:"variant_name"`
	ProductName string     `json:"product_name"`
	Status      string     `json:"status"`
	EndsAt      *time.Time `json:"ends_at"`
}

// Event is a parsed, tag-dispatched webhook notification.
type Event struct {
	Name           EventName
	SubscriptionID string
	Attributes     Attributes
}

// envelope mirrors the provider's wire shape.
type envelope struct {
	Meta struct {
		EventName  string                 `json:"event_name"`
		CustomData map[string]interface{} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string     `json:"id"`
		Type       string     `json:"type"`
		Attributes Attributes `json:"attributes"`
	} `json:"data"`
}

// ParseEvent decodes a raw webhook body into an Event. The subscription id
// is required for all subscription events since every stored effect is
// keyed on it.
func ParseEvent(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if env.Meta.EventName == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrBadPayload)
	}
	if env.Data.ID == "" {
		return nil, fmt.Errorf("%w: missing subscription id", ErrBadPayload)
	}

	return &Event{
		Name:           EventName(env.Meta.EventName),
		SubscriptionID: env.Data.ID,
		Attributes:     env.Data.Attributes,
	}, nil
}

// EventNameOf extracts the event name without validating the payload, so
// even rejected notifications get a labeled audit row and metric.
func EventNameOf(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Meta.EventName == "" {
		return "unknown"
	}
	return env.Meta.EventName
}
