package license

import "errors"

// Sentinel errors for lifecycle guard violations. They are recoverable and
// carry enough meaning for callers to branch: a conflict tells the client to
// deactivate the other device, a mismatch is reported without leaking which
// device is bound.
var (
	ErrNotFound              = errors.New("license not found")
	ErrDuplicateKey          = errors.New("license key already exists")
	ErrDuplicateSubscription = errors.New("license already exists for subscription")

	ErrRevoked   = errors.New("license has been revoked")
	ErrSuspended = errors.New("license has been suspended")
	ErrExpired   = errors.New("license has expired")

	ErrDeviceConflict = errors.New("license is already activated on another device")
	ErrDeviceMismatch = errors.New("device fingerprint does not match")
	ErrNotOwner       = errors.New("license is not owned by this email")

	ErrAlreadySuspended = errors.New("license is already suspended")
	ErrAlreadyRevoked   = errors.New("license is already revoked")
	ErrNotSuspended     = errors.New("license is not suspended")

	ErrInvalidPersonality = errors.New("invalid personality")
	ErrInvalidKeyFormat   = errors.New("invalid license key format")
)
