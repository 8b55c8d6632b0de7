// Package config loads, validates, and watches cync-lan's YAML
// configuration.
//
// This package manages:
//   - Parsing config.yaml into typed sections (server, mqtt, bridge, homes)
//   - CYNC_* environment variable overrides for deployment secrets
//   - Topology validation: device IDs unique per home, group members declared
//   - Defaults for everything a minimal config omits
//   - Watching the file so home/device edits apply without a restart
//
// Security Considerations:
//   - Broker passwords and the API secret belong in environment variables
//   - Keep the file at 0600; it names every device in the house
//
// Performance Characteristics:
//   - One parse at startup; the watcher re-parses only on change events
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
package config
