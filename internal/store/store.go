// Package store persists licenses, heartbeats, and webhook audit records.
// The primary implementation is PostgreSQL via pgx; MemStore mirrors its
// semantics for tests and for running without a database.
package store

import (
	"context"
	"time"

	"halocore/internal/license"
)

// Store is the persistence contract for the license subsystem. All lookups
// return license.ErrNotFound when no row matches, and Create returns
// license.ErrDuplicateKey on a key collision so callers can retry
// generation.
type Store interface {
	// Create inserts a new license.
	Create(ctx context.Context, l *license.License) error
	// GetByKey looks a license up by its normalized key.
	GetByKey(ctx context.Context, key string) (*license.License, error)
	// GetByID looks a license up by its id.
	GetByID(ctx context.Context, id string) (*license.License, error)
	// GetBySubscription looks a license up by billing subscription id.
	GetBySubscription(ctx context.Context, subscriptionID string) (*license.License, error)
	// Update persists the full license record (last-write-wins).
	Update(ctx context.Context, l *license.License) error
	// UpdatePersonality sets the personality on every license owned by
	// the given email and returns how many rows changed.
	UpdatePersonality(ctx context.Context, email string, p license.Personality, now time.Time) (int64, error)
	// List returns all licenses, newest first.
	List(ctx context.Context) ([]*license.License, error)
	// CountByStatus returns license counts per lifecycle status.
	CountByStatus(ctx context.Context) (map[license.Status]int64, error)

	// BindDevice atomically binds a device: the write succeeds only while
	// the stored fingerprint still equals prev (empty prev means unbound).
	// A lost race returns license.ErrDeviceConflict and leaves the row
	// untouched. ActivatedAt is set only if not already set.
	BindDevice(ctx context.Context, id, prev, fingerprint, deviceName, appVersion string, now time.Time) error

	// InsertHeartbeat appends one immutable heartbeat record.
	InsertHeartbeat(ctx context.Context, hb *license.Heartbeat) error
	// TouchHeartbeat updates the license's last_heartbeat mark and, when
	// non-empty, its reported app version.
	TouchHeartbeat(ctx context.Context, licenseID, appVersion string, at time.Time) error
	// HeartbeatTotals returns the all-time heartbeat count per license id.
	HeartbeatTotals(ctx context.Context) (map[string]int64, error)
	// CountActiveSince counts distinct licenses with a heartbeat at or
	// after the given instant. Computed store-side; the heartbeat table
	// grows without bound and must not be scanned into memory.
	CountActiveSince(ctx context.Context, since time.Time) (int64, error)

	// LogWebhook durably records an inbound billing notification for
	// audit and replay, whether or not it was processed successfully.
	LogWebhook(ctx context.Context, provider, eventName string, payload []byte, at time.Time) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
	// Close releases any held resources.
	Close() error
}
