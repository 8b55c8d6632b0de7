// Package database opens and migrates the SQLite journal that backs
// cync-lan's device state history.
//
// This package manages:
//   - The journal file handle, WAL mode, and busy timeout
//   - Schema migrations embedded into the binary via the migrations package
//   - A single-writer connection matching SQLite's locking model
//
// The journal is optional. With history disabled in config the file is
// never opened and state lives only in the in-memory registry.
//
// Security Considerations:
//   - Queries are parameterised throughout
//   - The journal file is chmodded 0600; state history exposes occupancy
//
// Performance Characteristics:
//   - WAL lets the diagnostic API read history while writes append
//   - The busy timeout absorbs brief lock contention instead of erroring
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.History.Path,
//	    WALMode:     cfg.History.WALMode,
//	    BusyTimeout: cfg.History.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations stay additive so a rollback never strands data:
//   - New columns are NULLABLE or carry a DEFAULT
//   - Columns are never dropped or renamed
//   - Every step ships .up.sql and .down.sql halves
package database
