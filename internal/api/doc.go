// Package api implements the diagnostic HTTP API for cync-lan.
//
// This package provides:
//   - Read endpoints for devices, groups, sessions and state history
//   - Runtime status (goroutines, memory, MQTT/session health)
//   - Prometheus metrics at /metrics
//   - Restart and mesh-refresh triggers, JWT-gated when auth is enabled
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// Control of devices flows exclusively over MQTT; the API never writes
// device state. It is a window into the bridge for operators debugging
// a mesh: which sessions are connected, who is primary, what the store
// believes each device looks like, and how a device's state evolved
// (when the history journal is enabled).
//
// # Security
//
// The mutating endpoints (restart, refresh) require a bearer token when
// api.auth.enabled is set. Tokens are issued against the single operator
// credential from the configuration; there is no user database.
//
// # Graceful Degradation
//
// History and InfluxDB are optional dependencies. Their endpoints and
// status fields report unavailable rather than failing the server.
package api
