// Package migrations compiles the journal schema into the binary.
//
// cync-lan typically runs as a single copied-over executable on a small
// LAN host, so the .sql files ride inside it rather than alongside it.
package migrations

import (
	"embed"

	"github.com/cynclan/cync-lan/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Hand the embedded schema to the database package. The files sit
	// at the root of this FS, hence ".".
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
