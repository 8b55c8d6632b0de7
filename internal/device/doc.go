// Package device provides the device and group registry for the Cync LAN
// bridge.
//
// The registry is the in-memory source of truth for every mesh device and
// group the bridge knows about. It is seeded from the exported home
// configuration at startup; the mesh never creates or destroys entries, it
// only updates state on the ones config declares.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────┐
//	│                          Device Registry                          │
//	│                                                                   │
//	│  ┌────────────────┐   ┌────────────────┐   ┌──────────────────┐  │
//	│  │    Registry    │   │  Status apply  │   │  History journal  │  │
//	│  │ (registry.go)  │──▶│  (status.go)   │──▶│ (history_sqlite)  │  │
//	│  │                │   │                │   │                  │  │
//	│  │ • config seed  │   │ • hysteresis   │   │ • SQLite rows    │  │
//	│  │ • snapshots    │   │ • write-through│   │ • JSON snapshots │  │
//	│  │ • hot reload   │   │ • aggregation  │   │ • prune          │  │
//	│  └────────────────┘   └────────────────┘   └──────────────────┘  │
//	└───────────────────────────────────────────────────────────────────┘
//	         ▲                       ▲
//	         │                       │
//	  configuration file      TCP status frames
//
// # Key Types
//
//   - Device: one mesh device, identity from config plus live state
//   - Group: a room group or subgroup of devices
//   - Type: the vendor device class, mapped to capability sets
//   - StatusUpdate: one normalized state report from the wire
//   - HistoryRepository: the state transition journal
//
// # ID Space
//
// The wire protocol carries bare 16-bit IDs with no home marker, so devices
// and groups across every configured home share one flat ID space. The
// registry rejects configurations where IDs collide.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Lookups return value
// snapshots, never shared pointers; mutation happens only through the
// Apply and Set methods.
package device
