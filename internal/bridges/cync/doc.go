// Package cync implements the Cync device bridge: a LAN stand-in for the
// vendor cloud that Cync Wi-Fi devices phone home to.
//
// Devices resolve the vendor endpoint to this host (DNS override), open a
// TLS connection to the listener, and speak their framed binary protocol.
// The bridge answers the cloud's side of every exchange, tracks device and
// group state, and exposes everything over MQTT in Home Assistant's
// conventions.
//
// # Architecture
//
//	┌──────────────┐   TLS :23779   ┌─────────────────┐    MQTT     ┌──────────────┐
//	│ Cync devices │◄──────────────►│   Cync bridge   │◄───────────►│ Home         │
//	│ (Wi-Fi mesh) │                │  (this package) │             │ Assistant    │
//	└──────────────┘                └─────────────────┘             └──────────────┘
//
// # Key Responsibilities
//
//   - Terminate device TLS sessions and run the handshake that makes a
//     session controllable (packet.go, session.go)
//   - Frame and decode the binary wire protocol (packet.go, inner.go,
//     status.go)
//   - Encode outbound control frames: power, brightness, white
//     temperature, RGB, lightshows, fan speed, mesh-info requests
//     (control.go)
//   - Track every connected session, elect a primary status listener,
//     and fail it over (sessions.go)
//   - Serialize commands through a FIFO queue with fan-out, ACK
//     tracking, resends and abandonment (queue.go, commands.go,
//     pending.go)
//   - Reconcile inbound status into the device registry and publish
//     state, availability and aggregates to MQTT (reconcile.go)
//   - Publish Home Assistant discovery and route inbound set-topic
//     commands (bridge.go)
//
// # Wire Format
//
// Every frame is [type:1][reserved:2][length:2 BE][payload]. Data packets
// (0x43, 0x73, 0x83) carry a 5-byte queue ID and a 3-byte message ID ahead
// of the body; control bodies are 0x7E-bounded inner structs with an
// additive checksum. See packet.go and inner.go for the full layout notes.
//
// # Thread Safety
//
// Sessions, the session registry, and the bridge are safe for concurrent
// use. Wire encoding helpers are pure functions.
package cync
