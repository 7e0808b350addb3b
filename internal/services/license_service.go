package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"halocore/internal/license"
	"halocore/internal/store"
)

// LicenseService is the client-facing license API: activation, heartbeat,
// deactivation, status, and personality selection.
type LicenseService interface {
	Activate(ctx context.Context, req ActivateRequest) (*ActivateResponse, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error)
	Deactivate(ctx context.Context, key, fingerprint string) error
	Status(ctx context.Context, key string) (*StatusResponse, error)
	UpdatePersonality(ctx context.Context, key, email string, p license.Personality) error
}

// ActivateRequest carries the client's activation call.
type ActivateRequest struct {
	LicenseKey        string
	DeviceFingerprint string
	DeviceName        string
	AppVersion        string
}

// ActivateResponse tells the client whether it may run and with what.
type ActivateResponse struct {
	Valid       bool                `json:"valid"`
	Personality license.Personality `json:"personality"`
	Features    []string            `json:"features"`
}

// HeartbeatRequest carries the client's periodic liveness call.
type HeartbeatRequest struct {
	LicenseKey        string
	DeviceFingerprint string
	AppVersion        string
	OSInfo            string
	Capabilities      []string
	LLMProvider       string
}

// HeartbeatResponse is the heartbeat verdict plus the fields a valid client
// needs to keep running.
type HeartbeatResponse struct {
	Valid       bool                `json:"valid"`
	Status      license.Status      `json:"status,omitempty"`
	Personality license.Personality `json:"personality,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	Action      license.Action      `json:"action,omitempty"`
	GraceEnds   *time.Time          `json:"grace_period_ends,omitempty"`
}

// StatusResponse is the sanitized license view for the status endpoint and
// the customer dashboard.
type StatusResponse struct {
	LicenseKey            string              `json:"license_key"`
	Status                license.Status      `json:"status"`
	Personality           license.Personality `json:"personality"`
	Email                 string              `json:"email"`
	DeviceFingerprint     string              `json:"device_fingerprint,omitempty"`
	DeviceName            string              `json:"device_name,omitempty"`
	AppVersion            string              `json:"app_version,omitempty"`
	ActivatedAt           *time.Time          `json:"activated_at,omitempty"`
	LastHeartbeat         *time.Time          `json:"last_heartbeat,omitempty"`
	CancellationScheduled bool                `json:"cancellation_scheduled"`
	CancellationDate      *time.Time          `json:"cancellation_date,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	Features              []string            `json:"features"`
}

type licenseService struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLicenseService creates the client-facing license service.
func NewLicenseService(s store.Store, logger *slog.Logger) LicenseService {
	return &licenseService{
		store:  s,
		logger: logger.With(slog.String("service", "license")),
		now:    time.Now,
	}
}

// Activate binds the calling device to the license. The guard is evaluated
// on the record we read, then enforced again by the store's conditional
// write, so a concurrent activation cannot slip a second device in between.
func (s *licenseService) Activate(ctx context.Context, req ActivateRequest) (*ActivateResponse, error) {
	l, err := s.store.GetByKey(ctx, license.NormalizeKey(req.LicenseKey))
	if err != nil {
		return nil, err
	}

	if err := license.CheckActivation(l, req.DeviceFingerprint); err != nil {
		return nil, err
	}

	now := s.now()
	err = s.store.BindDevice(ctx, l.ID, l.DeviceFingerprint, req.DeviceFingerprint,
		req.DeviceName, req.AppVersion, now)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "license activated",
		slog.String("license_id", l.ID),
		slog.String("device_name", req.DeviceName))

	return &ActivateResponse{
		Valid:       true,
		Personality: l.Personality,
		Features:    license.Features(l),
	}, nil
}

// Heartbeat validates liveness and records activity. The heartbeat marks
// are only advanced for valid verdicts: a suspended license inside its
// grace window gets a warn verdict without its timestamps moving.
func (s *licenseService) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	l, err := s.store.GetByKey(ctx, license.NormalizeKey(req.LicenseKey))
	if err != nil {
		return nil, err
	}

	now := s.now()
	verdict, err := license.CheckHeartbeat(l, req.DeviceFingerprint, now)
	if err != nil {
		return nil, err
	}

	resp := &HeartbeatResponse{
		Valid:     verdict.Valid,
		Status:    verdict.Status,
		Reason:    verdict.Reason,
		Action:    verdict.Action,
		GraceEnds: verdict.GraceEnds,
	}
	if !verdict.Valid {
		return resp, nil
	}

	// Activity recording is best-effort: a storage hiccup here must not
	// turn a valid license into a failed heartbeat on the client.
	if err := s.store.TouchHeartbeat(ctx, l.ID, req.AppVersion, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to update heartbeat mark",
			slog.String("license_id", l.ID),
			slog.String("error", err.Error()))
	}
	hb := &license.Heartbeat{
		ID:                uuid.New().String(),
		LicenseID:         l.ID,
		DeviceFingerprint: req.DeviceFingerprint,
		AppVersion:        req.AppVersion,
		OSInfo:            req.OSInfo,
		Capabilities:      req.Capabilities,
		LLMProvider:       req.LLMProvider,
		CreatedAt:         now,
	}
	if err := s.store.InsertHeartbeat(ctx, hb); err != nil {
		s.logger.ErrorContext(ctx, "failed to insert heartbeat record",
			slog.String("license_id", l.ID),
			slog.String("error", err.Error()))
	}

	resp.Personality = l.Personality
	return resp, nil
}

// Deactivate releases the device binding so another device can activate.
func (s *licenseService) Deactivate(ctx context.Context, key, fingerprint string) error {
	l, err := s.store.GetByKey(ctx, license.NormalizeKey(key))
	if err != nil {
		return err
	}

	if err := license.Deactivate(l, fingerprint, s.now()); err != nil {
		return err
	}
	if err := s.store.Update(ctx, l); err != nil {
		return fmt.Errorf("failed to persist deactivation: %w", err)
	}

	s.logger.InfoContext(ctx, "license deactivated", slog.String("license_id", l.ID))
	return nil
}

// Status returns the sanitized license view.
func (s *licenseService) Status(ctx context.Context, key string) (*StatusResponse, error) {
	l, err := s.store.GetByKey(ctx, license.NormalizeKey(key))
	if err != nil {
		return nil, err
	}

	return &StatusResponse{
		LicenseKey:            l.Key,
		Status:                l.Status,
		Personality:           l.Personality,
		Email:                 l.Email,
		DeviceFingerprint:     l.DeviceFingerprint,
		DeviceName:            l.DeviceName,
		AppVersion:            l.AppVersion,
		ActivatedAt:           l.ActivatedAt,
		LastHeartbeat:         l.LastHeartbeat,
		CancellationScheduled: l.CancellationScheduled,
		CancellationDate:      l.CancellationDate,
		CreatedAt:             l.CreatedAt,
		Features:              license.Features(l),
	}, nil
}

// UpdatePersonality changes the owner's companion personality across all of
// their licenses. The license key is the proof of ownership: the caller must
// present a key whose stored owner matches the claimed email, the same
// bearer credential every other owner-facing call uses.
func (s *licenseService) UpdatePersonality(ctx context.Context, key, email string, p license.Personality) error {
	if !p.Valid() {
		return license.ErrInvalidPersonality
	}

	l, err := s.store.GetByKey(ctx, license.NormalizeKey(key))
	if err != nil {
		return err
	}
	if !strings.EqualFold(l.Email, email) {
		return license.ErrNotOwner
	}

	n, err := s.store.UpdatePersonality(ctx, l.Email, p, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return license.ErrNotFound
	}

	s.logger.InfoContext(ctx, "personality updated",
		slog.String("license_id", l.ID),
		slog.String("personality", string(p)))
	return nil
}
