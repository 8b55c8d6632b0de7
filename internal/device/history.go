package device

import (
	"context"
	"time"
)

// HistoryEntry is one row of the state transition journal.
//
// Each row stores the full state snapshot after a transition plus the
// snapshot it replaced, so a single row is enough to answer "what changed".
// Prior is nil on the first report recorded for an ID.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the journal row.
	ID int64 `json:"id"`

	// HomeID is the home the device or group belongs to.
	HomeID int `json:"home_id"`

	// DeviceID is the mesh ID the row belongs to. Groups share the device
	// ID space, so group transitions land in the same column.
	DeviceID int `json:"device_id"`

	// Prior is the state before the transition, nil for the first row.
	Prior *StateRecord `json:"prior,omitempty"`

	// State is the snapshot after the transition.
	State StateRecord `json:"state"`

	// Source identifies the wire path that produced the transition.
	Source string `json:"source"`

	// CreatedAt is the transition timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves state transition journal rows.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordTransition appends one journal row.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - homeID: Home the target belongs to
	//   - deviceID: Mesh ID of the device or group
	//   - prior: State before the transition, nil on first sighting
	//   - state: State after the transition
	//   - source: Wire path that produced the report
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordTransition(ctx context.Context, homeID, deviceID int, prior *StateRecord, state StateRecord, source string) error

	// History returns recent journal rows for one mesh ID, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Mesh ID of the device or group
	//   - limit: Maximum rows to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []HistoryEntry: Ordered newest-first rows (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	History(ctx context.Context, deviceID int, limit int) ([]HistoryEntry, error)
}
