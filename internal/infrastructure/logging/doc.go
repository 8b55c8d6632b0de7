// Package logging wraps log/slog with cync-lan's output formats and
// default fields.
//
// # Features
//
//   - JSON output for supervised deployments (machine-parsable)
//   - Plain text for development
//   - Colourised console output for interactive runs (tint)
//   - service and version fields stamped on every entry
//   - Level filtering (debug, info, warn, error)
//   - Safe for concurrent use; handlers are slog's own
//
// # Configuration
//
// The logging section of config.yaml selects format and level:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, console
//	  output: "stdout"   # stdout, stderr
//
// Debug level is where the wire protocol becomes visible: packet dumps,
// queue transitions, and election changes all log at debug.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("listener ready", "addr", addr)
//	logger.Error("broker connect failed", "error", err)
//
// # Security
//
// Keep MQTT credentials, API secrets, and JWTs out of log fields.
// Device MACs and names are fine; they already appear in config.
package logging
