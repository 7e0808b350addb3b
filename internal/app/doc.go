// Package app wires configuration, storage, services, and the HTTP server
// together and manages their lifecycle.
//
// Initialization order: configuration, logging, OpenTelemetry, storage
// (PostgreSQL, or in-memory when no database is configured), services,
// router, server. All initialization errors are returned to the caller so
// main controls the exit path.
//
// Shutdown on SIGINT/SIGTERM drains in-flight requests within the
// configured timeout, closes the store, and flushes telemetry.
package app
