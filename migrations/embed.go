// Package migrations embeds the correctness-harness schema fixtures into the binary.
//
// Each fixture is a YYYYMMDD_HHMMSS_name.up.sql file with an optional
// matching .down.sql. A "-- crr: a, b" header upgrades the listed tables to
// conflict-free replicated relations after the up SQL runs.
package migrations

import (
	"embed"

	"github.com/nerrad567/crsql-harness/internal/infrastructure/database"
)

//go:embed *.sql
var fixturesFS embed.FS

func init() {
	database.MigrationsFS = fixturesFS
	database.MigrationsDir = "."
}
