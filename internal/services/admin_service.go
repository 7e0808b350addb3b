package services

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

// activeWindow is the lookback for the monthly-active count.
const activeWindow = 30 * 24 * time.Hour

// keyAttempts bounds retries when a generated license key collides.
const keyAttempts = 5

// AdminService is the privileged control surface: every caller has already
// been authenticated as an administrator by the transport layer.
type AdminService interface {
	List(ctx context.Context) ([]*AdminLicense, error)
	Create(ctx context.Context, email string, p license.Personality) (*license.License, error)
	SuspendByID(ctx context.Context, id string) (*license.License, error)
	RevokeByID(ctx context.Context, id string) (*license.License, error)
	Stats(ctx context.Context) (*StatsResponse, error)
}

// AdminLicense is a license enriched with activity counts for the console.
type AdminLicense struct {
	license.License
	TotalHeartbeats int64 `json:"total_heartbeats"`
}

// StatsResponse aggregates license counts for the admin dashboard.
type StatsResponse struct {
	TotalLicenses     int64 `json:"total_licenses"`
	ActiveLicenses    int64 `json:"active_licenses"`
	SuspendedLicenses int64 `json:"suspended_licenses"`
	RevokedLicenses   int64 `json:"revoked_licenses"`
	MonthlyActive     int64 `json:"monthly_active"`
}

type adminService struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAdminService creates the admin control surface service.
func NewAdminService(s store.Store, logger *slog.Logger) AdminService {
	return &adminService{
		store:  s,
		logger: logger.With(slog.String("service", "admin")),
		now:    time.Now,
	}
}

// List returns every license with its all-time heartbeat count.
func (s *adminService) List(ctx context.Context) ([]*AdminLicense, error) {
	licenses, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.HeartbeatTotals(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*AdminLicense, 0, len(licenses))
	for _, l := range licenses {
		out = append(out, &AdminLicense{
			License:         *l,
			TotalHeartbeats: totals[l.ID],
		})
	}
	return out, nil
}

// Create manually grants a license to an email. Key generation retries on
// the (negligible but possible) store collision.
func (s *adminService) Create(ctx context.Context, email string, p license.Personality) (*license.License, error) {
	if p == "" {
		p = license.DefaultPersonality
	}
	if !p.Valid() {
		return nil, license.ErrInvalidPersonality
	}

	now := s.now()
	l := &license.License{
		ID:          uuid.New().String(),
		Email:       email,
		Status:      license.StatusActive,
		Personality: p,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 0; attempt < keyAttempts; attempt++ {
		key, err := license.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate license key: %w", err)
		}
		l.Key = key

		err = s.store.Create(ctx, l)
		if err == nil {
			s.logger.InfoContext(ctx, "license created",
				slog.String("license_id", l.ID),
				slog.String("email", email))
			return l, nil
		}
		if !errors.Is(err, license.ErrDuplicateKey) {
			return nil, fmt.Errorf("failed to create license: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to create license after %d key attempts", keyAttempts)
}

// SuspendByID suspends a license. Suspending an already-suspended or
// revoked license is rejected, not silently accepted, so operators see
// exactly what state they acted on.
func (s *adminService) SuspendByID(ctx context.Context, id string) (*license.License, error) {
	l, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := license.Suspend(l, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to persist suspension: %w", err)
	}

	s.logger.InfoContext(ctx, "license suspended by admin", slog.String("license_id", l.ID))
	return l, nil
}

// RevokeByID permanently revokes a license and clears its device binding.
func (s *adminService) RevokeByID(ctx context.Context, id string) (*license.License, error) {
	l, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := license.Revoke(l, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to persist revocation: %w", err)
	}

	s.logger.InfoContext(ctx, "license revoked by admin", slog.String("license_id", l.ID))
	return l, nil
}

// Stats aggregates dashboard counts. Monthly-active is a store-side
// distinct count over the heartbeat window, never an in-memory scan.
func (s *adminService) Stats(ctx context.Context) (*StatsResponse, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	monthly, err := s.store.CountActiveSince(ctx, s.now().Add(-activeWindow))
	if err != nil {
		return nil, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	return &StatsResponse{
		TotalLicenses:     total,
		ActiveLicenses:    counts[license.StatusActive],
		SuspendedLicenses: counts[license.StatusSuspended],
		RevokedLicenses:   counts[license.StatusRevoked],
		MonthlyActive:     monthly,
	}, nil
}
