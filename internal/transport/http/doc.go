// Package http contains the chi HTTP handlers: the client-facing license
// endpoints, the billing webhook receiver, the admin control surface, and
// the health and metrics endpoints.
//
// Handlers decode and validate requests, call a service, and translate the
// outcome to JSON or an RFC 7807 problem. Business rules never live here.
package http
