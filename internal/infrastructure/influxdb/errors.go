package influxdb

import "errors"

// Sentinel errors for the telemetry sink. Telemetry is best-effort:
// callers log these and carry on rather than failing device traffic.
var (
	// ErrNotConnected indicates a write was attempted before Connect
	// succeeded or after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the startup ping or health check
	// failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates the integration is switched off in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
