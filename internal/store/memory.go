package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"halocore/internal/license"
)

// MemStore is an in-memory Store with the same semantics as PGStore,
// including the conditional binding write. It backs tests and lets the
// server run without a database.
type MemStore struct {
	mu         sync.RWMutex
	byID       map[string]*license.License
	byKey      map[string]string // license key -> id
	heartbeats []*license.Heartbeat
	webhooks   []webhookLog
}

type webhookLog struct {
	Provider  string
	EventName string
	Payload   []byte
	CreatedAt time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		byID:  make(map[string]*license.License),
		byKey: make(map[string]string),
	}
}

// clone copies a license so callers never alias the stored record.
func clone(l *license.License) *license.License {
	c := *l
	return &c
}

// Create inserts a new license, enforcing the same uniqueness rules as the
// Postgres schema: license keys are unique, and non-empty subscription ids
// appear at most once.
func (s *MemStore) Create(_ context.Context, l *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[l.Key]; ok {
		return license.ErrDuplicateKey
	}
	if _, ok := s.byID[l.ID]; ok {
		return license.ErrDuplicateKey
	}
	if l.SubscriptionID != "" {
		for _, existing := range s.byID {
			if existing.SubscriptionID == l.SubscriptionID {
				return license.ErrDuplicateSubscription
			}
		}
	}
	s.byID[l.ID] = clone(l)
	s.byKey[l.Key] = l.ID
	return nil
}

// GetByKey retrieves a license by key.
func (s *MemStore) GetByKey(_ context.Context, key string) (*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return nil, license.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

// GetByID retrieves a license by id.
func (s *MemStore) GetByID(_ context.Context, id string) (*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.byID[id]
	if !ok {
		return nil, license.ErrNotFound
	}
	return clone(l), nil
}

// GetBySubscription retrieves a license by billing subscription id.
func (s *MemStore) GetBySubscription(_ context.Context, subscriptionID string) (*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if subscriptionID == "" {
		return nil, license.ErrNotFound
	}
	for _, l := range s.byID {
		if l.SubscriptionID == subscriptionID {
			return clone(l), nil
		}
	}
	return nil, license.ErrNotFound
}

// Update persists the full license record.
func (s *MemStore) Update(_ context.Context, l *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[l.ID]; !ok {
		return license.ErrNotFound
	}
	s.byID[l.ID] = clone(l)
	return nil
}

// UpdatePersonality sets the personality for all of an owner's licenses.
func (s *MemStore) UpdatePersonality(_ context.Context, email string, p license.Personality, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, l := range s.byID {
		if l.Email == email {
			l.Personality = p
			l.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// BindDevice performs the conditional binding write under the store lock,
// matching PGStore's single-statement atomicity.
func (s *MemStore) BindDevice(_ context.Context, id, prev, fingerprint, deviceName, appVersion string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byID[id]
	if !ok || l.DeviceFingerprint != prev {
		return license.ErrDeviceConflict
	}

	l.DeviceFingerprint = fingerprint
	l.DeviceName = deviceName
	l.AppVersion = appVersion
	if l.ActivatedAt == nil {
		at := now
		l.ActivatedAt = &at
	}
	hb := now
	l.LastHeartbeat = &hb
	l.UpdatedAt = now
	return nil
}

// List returns all licenses, newest first.
func (s *MemStore) List(_ context.Context) ([]*license.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	licenses := make([]*license.License, 0, len(s.byID))
	for _, l := range s.byID {
		licenses = append(licenses, clone(l))
	}
	sort.Slice(licenses, func(i, j int) bool {
		return licenses[i].CreatedAt.After(licenses[j].CreatedAt)
	})
	return licenses, nil
}

// CountByStatus returns license counts per lifecycle status.
func (s *MemStore) CountByStatus(_ context.Context) (map[license.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[license.Status]int64)
	for _, l := range s.byID {
		counts[l.Status]++
	}
	return counts, nil
}

// InsertHeartbeat appends one heartbeat record.
func (s *MemStore) InsertHeartbeat(_ context.Context, hb *license.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *hb
	c.Capabilities = append([]string(nil), hb.Capabilities...)
	s.heartbeats = append(s.heartbeats, &c)
	return nil
}

// TouchHeartbeat updates the license's last-heartbeat mark.
func (s *MemStore) TouchHeartbeat(_ context.Context, licenseID, appVersion string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.byID[licenseID]
	if !ok {
		return license.ErrNotFound
	}
	mark := at
	l.LastHeartbeat = &mark
	if appVersion != "" {
		l.AppVersion = appVersion
	}
	l.UpdatedAt = at
	return nil
}

// HeartbeatTotals returns the all-time heartbeat count per license.
func (s *MemStore) HeartbeatTotals(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int64)
	for _, hb := range s.heartbeats {
		totals[hb.LicenseID]++
	}
	return totals, nil
}

// CountActiveSince counts distinct licenses with a heartbeat in the window.
func (s *MemStore) CountActiveSince(_ context.Context, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, hb := range s.heartbeats {
		if !hb.CreatedAt.Before(since) {
			seen[hb.LicenseID] = true
		}
	}
	return int64(len(seen)), nil
}

// LogWebhook records an inbound billing notification.
func (s *MemStore) LogWebhook(_ context.Context, provider, eventName string, payload []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhooks = append(s.webhooks, webhookLog{
		Provider:  provider,
		EventName: eventName,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: at,
	})
	return nil
}

// WebhookCount reports how many notifications were logged. Test helper.
func (s *MemStore) WebhookCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.webhooks)
}

// Ping always succeeds for the in-memory store.
func (s *MemStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}
