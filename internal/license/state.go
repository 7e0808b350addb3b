package license

import "time"

// CheckActivation runs the activation guard without mutating the license:
// revoked, suspended, and expired licenses may not activate at all, and a
// license bound to a different device conflicts. Suspended licenses are
// rejected here even inside the grace window; the grace policy applies only
// to heartbeats from the already-bound device.
func CheckActivation(l *License, fingerprint string) error {
	switch l.Status {
	case StatusRevoked:
		return ErrRevoked
	case StatusSuspended:
		return ErrSuspended
	case StatusExpired:
		return ErrExpired
	case StatusActive:
	}
	if l.Bound() && l.DeviceFingerprint != fingerprint {
		return ErrDeviceConflict
	}
	return nil
}

// Activate binds the device after CheckActivation passes. ActivatedAt is set
// only once for the current binding epoch; re-activating the same device
// refreshes the heartbeat mark but not the first-activation time.
func Activate(l *License, fingerprint, deviceName, appVersion string, now time.Time) error {
	if err := CheckActivation(l, fingerprint); err != nil {
		return err
	}
	l.DeviceFingerprint = fingerprint
	l.DeviceName = deviceName
	l.AppVersion = appVersion
	if l.ActivatedAt == nil {
		l.ActivatedAt = &now
	}
	l.LastHeartbeat = &now
	l.UpdatedAt = now
	return nil
}

// Deactivate clears the device binding. The caller must present the bound
// fingerprint; anyone else is rejected without revealing what is bound.
func Deactivate(l *License, fingerprint string, now time.Time) error {
	if l.DeviceFingerprint != fingerprint {
		return ErrDeviceMismatch
	}
	l.DeviceFingerprint = ""
	l.DeviceName = ""
	l.AppVersion = ""
	l.UpdatedAt = now
	return nil
}

// Suspend moves a license into the recoverable suspended state. Revoked is
// terminal, and suspending twice is rejected so the original SuspendedAt
// (and with it the grace window) is never silently reset.
func Suspend(l *License, now time.Time) error {
	switch l.Status {
	case StatusRevoked:
		return ErrRevoked
	case StatusSuspended:
		return ErrAlreadySuspended
	case StatusActive, StatusExpired:
	}
	l.Status = StatusSuspended
	l.SuspendedAt = &now
	l.UpdatedAt = now
	return nil
}

// Revoke permanently kills a license. The device binding is cleared because
// the license can never operate again. Revoking a suspended license is
// allowed; revoking twice is rejected.
func Revoke(l *License, now time.Time) error {
	if l.Status == StatusRevoked {
		return ErrAlreadyRevoked
	}
	l.Status = StatusRevoked
	l.RevokedAt = &now
	l.DeviceFingerprint = ""
	l.DeviceName = ""
	l.AppVersion = ""
	l.UpdatedAt = now
	return nil
}

// Reactivate returns a suspended license to active, clearing the suspension
// mark and any scheduled cancellation. The device binding survived the
// suspension, so the customer resumes without re-activating.
func Reactivate(l *License, now time.Time) error {
	if l.Status == StatusRevoked {
		return ErrRevoked
	}
	if l.Status != StatusSuspended {
		return ErrNotSuspended
	}
	l.Status = StatusActive
	l.SuspendedAt = nil
	l.CancellationScheduled = false
	l.CancellationDate = nil
	l.UpdatedAt = now
	return nil
}

// ScheduleCancellation records a future expiry announced by billing. The
// status is unchanged: the license keeps working until the billing period
// ends and a separate subscription_expired event suspends it.
func ScheduleCancellation(l *License, endsAt *time.Time, now time.Time) error {
	if l.Status == StatusRevoked {
		return ErrRevoked
	}
	l.CancellationScheduled = true
	l.CancellationDate = endsAt
	l.UpdatedAt = now
	return nil
}

// CheckHeartbeat decides whether a heartbeat from the given device is
// accepted, warned, or blocked. A fingerprint mismatch is an error; every
// policy outcome is a Verdict so clients can react instead of failing.
func CheckHeartbeat(l *License, fingerprint string, now time.Time) (Verdict, error) {
	if l.Bound() && l.DeviceFingerprint != fingerprint {
		return Verdict{}, ErrDeviceMismatch
	}

	switch l.Status {
	case StatusActive:
		return Verdict{Valid: true, Status: l.Status}, nil
	case StatusRevoked:
		return Verdict{
			Valid:  false,
			Status: l.Status,
			Reason: "License has been revoked",
			Action: ActionBlock,
		}, nil
	case StatusExpired:
		return Verdict{
			Valid:  false,
			Status: l.Status,
			Reason: "License has expired",
			Action: ActionBlock,
		}, nil
	case StatusSuspended:
		return graceVerdict(l, now), nil
	}

	// Unknown status in the store is treated as blocked, never as valid.
	return Verdict{
		Valid:  false,
		Status: l.Status,
		Reason: "License is in an unknown state",
		Action: ActionBlock,
	}, nil
}
