package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halocore/internal/license"
	"halocore/internal/store"
)

func TestAdminService_Create(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("grants active license with generated key", func(t *testing.T) {
		mem := store.NewMemStore()
		svc := &adminService{store: mem, logger: testLogger(), now: fixedClock(now)}

		l, err := svc.Create(context.Background(), "new@example.com", license.PersonalityAtlas)
		require.NoError(t, err)
		assert.Equal(t, license.StatusActive, l.Status)
		assert.Equal(t, license.PersonalityAtlas, l.Personality)
		assert.True(t, license.ValidKeyFormat(l.Key))
		assert.Equal(t, now, l.CreatedAt)

		got, err := mem.GetByKey(context.Background(), l.Key)
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", got.Email)
	})

	t.Run("empty personality falls back to default", func(t *testing.T) {
		mem := store.NewMemStore()
		svc := &adminService{store: mem, logger: testLogger(), now: fixedClock(now)}

		l, err := svc.Create(context.Background(), "new@example.com", "")
		require.NoError(t, err)
		assert.Equal(t, license.DefaultPersonality, l.Personality)
	})

	t.Run("unknown personality rejected", func(t *testing.T) {
		svc := &adminService{store: store.NewMemStore(), logger: testLogger(), now: fixedClock(now)}

		_, err := svc.Create(context.Background(), "new@example.com", license.Personality("pirate"))
		assert.ErrorIs(t, err, license.ErrInvalidPersonality)
	})
}

func TestAdminService_SuspendByID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemStore()
	l := newTestLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC")
	l.DeviceFingerprint = "fp-1"
	l.DeviceName = "Work MacBook"
	seedLicense(t, mem, l)
	svc := &adminService{store: mem, logger: testLogger(), now: fixedClock(now)}

	got, err := svc.SuspendByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.StatusSuspended, got.Status)
	require.NotNil(t, got.SuspendedAt)
	assert.Equal(t, now, *got.SuspendedAt)
	assert.Equal(t, "fp-1", got.DeviceFingerprint, "suspension must keep the binding")

	_, err = svc.SuspendByID(context.Background(), l.ID)
	assert.ErrorIs(t, err, license.ErrAlreadySuspended)

	_, err = svc.SuspendByID(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, license.ErrNotFound)
}

func TestAdminService_RevokeByID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemStore()
	l := newTestLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC")
	l.DeviceFingerprint = "fp-1"
	seedLicense(t, mem, l)
	svc := &adminService{store: mem, logger: testLogger(), now: fixedClock(now)}

	got, err := svc.RevokeByID(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.StatusRevoked, got.Status)
	assert.Empty(t, got.DeviceFingerprint, "revocation clears the binding")

	_, err = svc.RevokeByID(context.Background(), l.ID)
	assert.ErrorIs(t, err, license.ErrAlreadyRevoked)
}

func TestAdminService_List(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemStore()
	a := newTestLicense("HL-AAAAAAAA-AAAAAAAA-AAAAAAAA")
	b := newTestLicense("HL-BBBBBBBB-BBBBBBBB-BBBBBBBB")
	b.ID = "lic-b"
	b.CreatedAt = a.CreatedAt.Add(time.Hour)
	seedLicense(t, mem, a)
	seedLicense(t, mem, b)

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.InsertHeartbeat(context.Background(), &license.Heartbeat{
			ID:        string(rune('x' + i)),
			LicenseID: a.ID,
			CreatedAt: now,
		}))
	}

	svc := &adminService{store: mem, logger: testLogger(), now: fixedClock(now)}
	out, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)

	// Newest first, with per-license heartbeat totals attached.
	assert.Equal(t, b.ID, out[0].ID)
	assert.Equal(t, int64(0), out[0].TotalHeartbeats)
	assert.Equal(t, a.ID, out[1].ID)
	assert.Equal(t, int64(3), out[1].TotalHeartbeats)
}

func TestAdminService_Stats(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemStore()

	statuses := []license.Status{
		license.StatusActive,
		license.StatusActive,
		license.StatusSuspended,
		license.StatusRevoked,
	}
	for i, st := range statuses {
		l := newTestLicense("HL-AAAAAAAA-BBBBBBBB-" + string(rune('A'+i)) + "CCCCCCC")
		l.ID = l.Key
		l.Status = st
		seedLicense(t, mem, l)
	}

	// One heartbeat inside the 30-day window, one far outside it.
	require.NoError(t, mem.InsertHeartbeat(context.Background(), &license.Heartbeat{
		ID: "hb-1", LicenseID: "HL-AAAAAAAA-BBBBBBBB-ACCCCCCC", CreatedAt: now.Add(-24 * time.Hour),
	}))
	require.NoError(t, mem.InsertHeartbeat(context.Background(), &license.Heartbeat{
		ID: "hb-2", LicenseID: "HL-AAAAAAAA-BBBBBBBB-BCCCCCCC", CreatedAt: now.Add(-90 * 24 * time.Hour),
	}))

	svc := &adminService{store: mem, logger: testLogger(), now: fixedClock(now)}
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalLicenses)
	assert.Equal(t, int64(2), stats.ActiveLicenses)
	assert.Equal(t, int64(1), stats.SuspendedLicenses)
	assert.Equal(t, int64(1), stats.RevokedLicenses)
	assert.Equal(t, int64(1), stats.MonthlyActive)
}
