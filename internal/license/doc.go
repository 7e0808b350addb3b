// Package license implements the license lifecycle for the Halo desktop
// companion: issuance, single-device activation, heartbeat validation,
// billing-driven suspension, and administrative revocation.
//
// # Lifecycle
//
// A license is created active, either by an administrator or by a billing
// subscription_created event. From there it moves between states:
//
//	active ──suspend──▶ suspended ──reactivate──▶ active
//	active/suspended ──revoke──▶ revoked (terminal)
//	active ──batch expiry──▶ expired
//
// Revocation is terminal: no event may move a license out of revoked.
// Suspension is recoverable and deliberately preserves the device binding so
// a customer who resolves a billing issue resumes without re-activating.
//
// # Device Binding
//
// At most one device is bound to a license at any time. Activation binds the
// caller's fingerprint if the slot is free or already holds the same
// fingerprint; a different bound fingerprint is a conflict and the caller
// must deactivate the other device first. The check-and-set is enforced with
// a conditional write at the storage layer, so concurrent activations cannot
// both win.
//
// # Grace Period
//
// A suspended license keeps limited operation for seven days from
// SuspendedAt. Heartbeats inside the window receive a warn verdict carrying
// the window end so clients can show a countdown; afterwards they are
// blocked. Activation of a suspended license is always rejected outright,
// which intentionally differs from the heartbeat policy (new-device binding
// during a billing dispute is not allowed).
//
// All functions in this package are pure: they validate and mutate License
// values in memory and never touch storage. Persistence and atomicity live
// in the store package.
package license
