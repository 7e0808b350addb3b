package license

import "time"

// Status represents the lifecycle state of a license. It is a closed set;
// consumers switch exhaustively and treat anything else as corrupt data.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// Personality identifies the companion personality a license owner selected.
type Personality string

const (
	PersonalityAtlas Personality = "atlas"
	PersonalityNova  Personality = "nova"
	PersonalitySpark Personality = "spark"
	PersonalitySage  Personality = "sage"

	// DefaultPersonality is used when a license has no explicit choice.
	DefaultPersonality = PersonalityNova
)

// Personalities lists every selectable personality, in display order.
var Personalities = []Personality{
	PersonalityAtlas,
	PersonalityNova,
	PersonalitySpark,
	PersonalitySage,
}

// Valid reports whether p is one of the selectable personalities.
func (p Personality) Valid() bool {
	switch p {
	case PersonalityAtlas, PersonalityNova, PersonalitySpark, PersonalitySage:
		return true
	}
	return false
}

// License is the central record: who owns it, what state it is in, and
// which device (if any) it is bound to.
type License struct {
	ID          string      `json:"id"`
	Key         string      `json:"license_key"`
	Email       string      `json:"email"`
	Status      Status      `json:"status"`
	Personality Personality `json:"personality"`

	// Device binding. DeviceName and AppVersion are descriptive metadata
	// and are cleared whenever DeviceFingerprint is cleared.
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	DeviceName        string `json:"device_name,omitempty"`
	AppVersion        string `json:"app_version,omitempty"`

	// SubscriptionID links the license to the billing provider's
	// subscription. Empty for manual admin grants.
	SubscriptionID string `json:"subscription_id,omitempty"`

	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	SuspendedAt   *time.Time `json:"suspended_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`

	// A scheduled cancellation is a future expiry notice from billing,
	// not an immediate status change.
	CancellationScheduled bool       `json:"cancellation_scheduled"`
	CancellationDate      *time.Time `json:"cancellation_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bound reports whether a device is currently bound to the license.
func (l *License) Bound() bool {
	return l.DeviceFingerprint != ""
}

// Heartbeat is an immutable, append-only activity record. One row per
// heartbeat call; rows are never updated or deleted.
type Heartbeat struct {
	ID                string    `json:"id"`
	LicenseID         string    `json:"license_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	AppVersion        string    `json:"app_version,omitempty"`
	OSInfo            string    `json:"os_info,omitempty"`
	Capabilities      []string  `json:"installed_capabilities,omitempty"`
	LLMProvider       string    `json:"llm_provider,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Action tells a blocked-by-policy client how to react.
type Action string

const (
	// ActionWarn means the client may keep operating but should surface
	// the grace countdown.
	ActionWarn Action = "warn"
	// ActionBlock means the client must stop operating.
	ActionBlock Action = "block"
)

// Verdict is the outcome of a heartbeat policy check. An invalid verdict is
// not an error: legitimate clients receive it and react (show an upgrade
// prompt, count down the grace window) instead of crashing.
type Verdict struct {
	Valid     bool       `json:"valid"`
	Status    Status     `json:"status,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Action    Action     `json:"action,omitempty"`
	GraceEnds *time.Time `json:"grace_period_ends,omitempty"`
}
