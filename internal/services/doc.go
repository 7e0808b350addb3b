// Package services contains the business logic between the HTTP transport
// and the store: the license service consumed by the desktop client and the
// admin service behind the privileged control surface.
//
// Services own orchestration only. Lifecycle rules live in the license
// package; atomicity of the device binding lives in the store. Handlers
// translate service errors to HTTP problem responses.
package services
