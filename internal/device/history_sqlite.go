package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteHistoryRepository implements HistoryRepository on SQLite.
//
// Snapshots are stored as JSON in the state_history table so the schema
// never has to chase the state struct.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a journal backed by an open SQLite
// connection.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// RecordTransition inserts one journal row.
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
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) RecordTransition(ctx context.Context, homeID, deviceID int, prior *StateRecord, state StateRecord, source string) error {
	if deviceID <= 0 {
		return fmt.Errorf("device id is required")
	}
	if source == "" {
		return fmt.Errorf("source is required")
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	var priorJSON sql.NullString
	if prior != nil {
		b, err := json.Marshal(prior)
		if err != nil {
			return fmt.Errorf("marshalling prior state: %w", err)
		}
		priorJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (home_id, device_id, prior_state, state, source) VALUES (?, ?, ?, ?, ?)",
		homeID,
		deviceID,
		priorJSON,
		string(stateJSON),
		source,
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// History returns recent journal rows for one mesh ID, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Mesh ID of the device or group
//   - limit: Maximum rows to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Rows ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) History(ctx context.Context, deviceID int, limit int) ([]HistoryEntry, error) {
	if deviceID <= 0 {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, home_id, device_id, prior_state, state, source, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var entry HistoryEntry
		var priorJSON sql.NullString
		var stateJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.HomeID, &entry.DeviceID, &priorJSON, &stateJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}

		if priorJSON.Valid {
			var prior StateRecord
			if err := json.Unmarshal([]byte(priorJSON.String), &prior); err != nil {
				return nil, fmt.Errorf("unmarshalling prior state: %w", err)
			}
			entry.Prior = &prior
		}
		if err := json.Unmarshal([]byte(stateJSON), &entry.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// Prune deletes journal rows older than the given retention window.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention window (rows older than now-olderThan go)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseHistoryTimestamp parses a timestamp stored by SQLite, which emits
// RFC3339 without a sub-second part via strftime.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
