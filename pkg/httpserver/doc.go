// Package httpserver wraps net/http.Server with graceful shutdown, functional
// options, env-driven configuration, and health-check handlers.
//
// Run blocks until the context is cancelled, an interrupt signal arrives, or
// the listener fails; shutdown is bounded by the configured timeout.
package httpserver
