package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halocore/internal/license"
	"halocore/internal/store"
)

const testSecret = "whsec-test"

func newTestProcessor(t *testing.T) (*Processor, *store.MemStore) {
	t.Helper()
	s := store.NewMemStore()
	p := NewProcessor(s, testSecret, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return p, s
}

func eventBody(name, subID, email, endsAt string) []byte {
	attrs := fmt.Sprintf(`{"user_email":%q,"variant_name":"nova"`, email)
	if endsAt != "" {
		attrs += fmt.Sprintf(`,"ends_at":%q`, endsAt)
	}
	attrs += `}`
	return []byte(fmt.Sprintf(
		`{"meta":{"event_name":%q},"data":{"id":%q,"type":"subscriptions","attributes":%s}}`,
		name, subID, attrs,
	))
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(eventBody("subscription_created", "sub_123", "alice@example.com", ""))
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionCreated, ev.Name)
	assert.Equal(t, "sub_123", ev.SubscriptionID)
	assert.Equal(t, "alice@example.com", ev.Attributes.UserEmail)

	_, err = ParseEvent([]byte(`{not json`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`{"meta":{},"data":{"id":"sub_1"}}`))
	require.Error(t, err, "missing event name is rejected")

	_, err = ParseEvent([]byte(`{"meta":{"event_name":"subscription_created"},"data":{}}`))
	require.Error(t, err, "missing subscription id is rejected")
}

func TestHandleNotificationRejectsBadSignature(t *testing.T) {
	p, s := newTestProcessor(t)
	body := eventBody("subscription_created", "sub_123", "alice@example.com", "")

	err := p.HandleNotification(context.Background(), body, sign(body, "wrong-secret"))
	require.ErrorIs(t, err, ErrBadSignature)

	// Rejected notifications are still audit-logged, but nothing mutates.
	assert.Equal(t, 1, s.WebhookCount())
	licenses, _ := s.List(context.Background())
	assert.Empty(t, licenses)
}

func TestSubscriptionCreated(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	body := eventBody("subscription_created", "sub_123", "alice@example.com", "")

	require.NoError(t, p.HandleNotification(ctx, body, sign(body, testSecret)))

	l, err := s.GetBySubscription(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, l.Status)
	assert.Equal(t, "alice@example.com", l.Email)
	assert.Equal(t, license.PersonalityNova, l.Personality)
	assert.True(t, license.ValidKeyFormat(l.Key))
}

func TestSubscriptionCreatedReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	body := eventBody("subscription_created", "sub_123", "alice@example.com", "")

	require.NoError(t, p.HandleNotification(ctx, body, sign(body, testSecret)))
	require.NoError(t, p.HandleNotification(ctx, body, sign(body, testSecret)))

	licenses, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, licenses, 1, "replaying the identical webhook must not create a second license")
	assert.Equal(t, 2, s.WebhookCount(), "every notification is audit-logged, including replays")
}

// blindReplayStore simulates the window where a concurrent webhook delivery
// has not yet committed its insert: the read-side replay guard sees nothing,
// so only the store's unique subscription constraint stands in the way.
type blindReplayStore struct {
	*store.MemStore
}

func (s *blindReplayStore) GetBySubscription(context.Context, string) (*license.License, error) {
	return nil, license.ErrNotFound
}

func TestSubscriptionCreatedConcurrentReplay(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemStore()
	p := NewProcessor(&blindReplayStore{MemStore: mem}, testSecret,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	body := eventBody("subscription_created", "sub_123", "alice@example.com", "")

	require.NoError(t, p.HandleNotification(ctx, body, sign(body, testSecret)))
	require.NoError(t, p.HandleNotification(ctx, body, sign(body, testSecret)),
		"losing the insert race must be treated as already-created, not an error")

	licenses, err := mem.List(ctx)
	require.NoError(t, err)
	require.Len(t, licenses, 1)
	assert.Equal(t, "sub_123", licenses[0].SubscriptionID)
}

func TestSubscriptionCancelled(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	created := eventBody("subscription_created", "sub_123", "alice@example.com", "")
	require.NoError(t, p.HandleNotification(ctx, created, sign(created, testSecret)))

	cancelled := eventBody("subscription_cancelled", "sub_123", "alice@example.com", "2024-06-01T00:00:00Z")
	require.NoError(t, p.HandleNotification(ctx, cancelled, sign(cancelled, testSecret)))

	l, err := s.GetBySubscription(ctx, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, license.StatusActive, l.Status, "cancellation schedules expiry without changing status")
	assert.True(t, l.CancellationScheduled)
	require.NotNil(t, l.CancellationDate)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *l.CancellationDate)
}

func TestSubscriptionExpiredAndResumed(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)
	created := eventBody("subscription_created", "sub_123", "alice@example.com", "")
	require.NoError(t, p.HandleNotification(ctx, created, sign(created, testSecret)))

	expired := eventBody("subscription_expired", "sub_123", "alice@example.com", "")
	require.NoError(t, p.HandleNotification(ctx, expired, sign(expired, testSecret)))

	l, _ := s.GetBySubscription(ctx, "sub_123")
	assert.Equal(t, license.StatusSuspended, l.Status)
	require.NotNil(t, l.SuspendedAt)

	// Replayed expiry is a no-op success, not an error.
	require.NoError(t, p.HandleNotification(ctx, expired, sign(expired, testSecret)))

	resumed := eventBody("subscription_resumed", "sub_123", "alice@example.com", "")
	require.NoError(t, p.HandleNotification(ctx, resumed, sign(resumed, testSecret)))

	l, _ = s.GetBySubscription(ctx, "sub_123")
	assert.Equal(t, license.StatusActive, l.Status)
	assert.Nil(t, l.SuspendedAt)

	// Replayed resume on an already-active license is also a no-op.
	require.NoError(t, p.HandleNotification(ctx, resumed, sign(resumed, testSecret)))
}

func TestUnknownAndUpdatedEventsAreLoggedNoOps(t *testing.T) {
	ctx := context.Background()
	p, s := newTestProcessor(t)

	for _, name := range []string{"subscription_updated", "order_created", "something_new"} {
		body := eventBody(name, "sub_999", "bob@example.com", "")
		require.NoError(t, p.HandleNotification(ctx, body, sign(body, testSecret)), name)
	}

	licenses, _ := s.List(ctx)
	assert.Empty(t, licenses)
	assert.Equal(t, 3, s.WebhookCount())
}

func TestEventsForUnknownSubscriptionAreIgnored(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProcessor(t)

	for _, name := range []string{"subscription_cancelled", "subscription_expired", "subscription_resumed"} {
		body := eventBody(name, "sub_missing", "", "")
		require.NoError(t, p.HandleNotification(ctx, body, sign(body, testSecret)), name)
	}
}

func TestSubscriptionCreatedRequiresEmail(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProcessor(t)
	body := eventBody("subscription_created", "sub_123", "", "")

	err := p.HandleNotification(ctx, body, sign(body, testSecret))
	require.Error(t, err)
}
