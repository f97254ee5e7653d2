package database

import (
	"bufio"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// MigrationsFS holds the harness schema fixtures.
// The migrations package sets it from its embedded *.sql files:
//
//	//go:embed *.sql
//	var fixturesFS embed.FS
//
//	func init() {
//	    database.MigrationsFS = fixturesFS
//	}
var MigrationsFS embed.FS

// MigrationsDir is the directory within MigrationsFS containing fixture files.
// Set to "." when files are at the root of the embedded filesystem.
var MigrationsDir = "migrations"

const (
	// migrationsTable records applied fixtures. It is never upgraded to a CRR,
	// so fixture bookkeeping does not replicate.
	migrationsTable = "harness_migrations"

	// crrDirective is the header line naming tables to upgrade after the up SQL.
	// Example: -- crr: todo, todo_list
	crrDirective = "-- crr:"

	// versionParts is the number of "_" separated fields in a version
	// (YYYYMMDD_HHMMSS).
	versionParts = 2
)

// Migration is one schema fixture loaded from MigrationsFS.
type Migration struct {
	// Version orders fixtures. Format: YYYYMMDD_HHMMSS
	Version string

	// Name is the description part of the filename.
	Name string

	// UpSQL creates the fixture's schema.
	UpSQL string

	// DownSQL removes it. Optional.
	DownSQL string

	// CRRs are the tables upgraded with crsql_as_crr once UpSQL has run,
	// taken from the fixture's "-- crr:" header.
	CRRs []string
}

// MigrationRecord is a row of the bookkeeping table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies all pending fixtures in version order.
//
// Each fixture runs in its own transaction: the up SQL, then crsql_as_crr
// for every table in its header, then the bookkeeping row. A failing fixture
// is rolled back and later fixtures are not attempted; the ones before it
// stay applied, so re-running Migrate continues from the failure.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: The first fixture failure, naming the fixture
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	_, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown rolls back the most recently applied fixture.
// Fixtures without down SQL cannot be rolled back.
func (db *DB) MigrateDown(ctx context.Context) error {
	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1]

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	i := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == latest.Version })
	if i < 0 {
		return fmt.Errorf("migration %s not found in filesystem", latest.Version)
	}
	m := migrations[i]
	if m.DownSQL == "" {
		return fmt.Errorf("migration %s has no down SQL", m.Version)
	}

	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return fmt.Errorf("executing down SQL: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+migrationsTable+" WHERE version = ?", m.Version); err != nil {
			return fmt.Errorf("removing migration record: %w", err)
		}
		return nil
	})
}

// GetMigrationStatus returns applied records and fixtures still pending.
// The bookkeeping table must exist; Migrate creates it.
func (db *DB) GetMigrationStatus(ctx context.Context) (applied []MigrationRecord, pending []Migration, err error) {
	applied, err = db.getAppliedMigrations(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("getting applied migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, nil, fmt.Errorf("loading migrations: %w", err)
	}

	done := make(map[string]bool, len(applied))
	for _, r := range applied {
		done[r.Version] = true
	}
	for _, m := range migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func (db *DB) getAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.Conn.QueryContext(ctx,
		"SELECT version, applied_at FROM "+migrationsTable+" ORDER BY version",
	)
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		var appliedAt string
		if err := rows.Scan(&r.Version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		r.AppliedAt, err = time.Parse(time.RFC3339, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing applied_at of migration %s: %w", r.Version, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migrations: %w", err)
	}
	return records, nil
}

func (db *DB) applyMigration(ctx context.Context, m Migration) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}
		for _, table := range m.CRRs {
			if _, err := tx.ExecContext(ctx, "SELECT crsql_as_crr(?)", table); err != nil {
				return fmt.Errorf("upgrading %s to crr: %w", table, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+migrationsTable+" (version, applied_at) VALUES (?, ?)",
			m.Version,
			time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// loadMigrations reads every fixture pair from MigrationsFS, oldest first.
func loadMigrations() ([]Migration, error) {
	var empty embed.FS
	if MigrationsFS == empty {
		return nil, nil
	}

	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, nil //nolint:nilerr // Missing directory means no fixtures
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, isUp, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}

		data, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if isUp {
			m.Name = extractMigrationName(entry.Name())
			m.UpSQL = string(data)
			m.CRRs = parseCRRDirective(m.UpSQL)
		} else {
			m.DownSQL = string(data)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" {
			continue // down file without its up file
		}
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	return migrations, nil
}

// parseMigrationFilename extracts version and direction from a fixture filename.
// Example: 20260118_120000_todo.up.sql -> ("20260118_120000", true, true)
func parseMigrationFilename(name string) (version string, isUp bool, ok bool) {
	base, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", false, false
	}

	if b, up := strings.CutSuffix(base, ".up"); up {
		base, isUp = b, true
	} else if b, down := strings.CutSuffix(base, ".down"); down {
		base = b
	} else {
		return "", false, false
	}

	parts := strings.SplitN(base, "_", versionParts+1)
	if len(parts) < versionParts {
		return "", false, false
	}
	return parts[0] + "_" + parts[1], isUp, true
}

// extractMigrationName returns the description part of a fixture filename.
// Example: "20260118_120000_todo_list.up.sql" -> "todo_list"
func extractMigrationName(filename string) string {
	base := strings.TrimSuffix(filename, ".sql")
	base = strings.TrimSuffix(base, ".up")
	base = strings.TrimSuffix(base, ".down")

	parts := strings.SplitN(base, "_", versionParts+1)
	if len(parts) > versionParts {
		return parts[versionParts]
	}
	return base
}

// parseCRRDirective collects table names from "-- crr:" lines at the top of
// a fixture. Scanning stops at the first line that is not a comment or blank.
func parseCRRDirective(upSQL string) []string {
	var tables []string
	sc := bufio.NewScanner(strings.NewReader(upSQL))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			break
		}
		rest, ok := strings.CutPrefix(line, crrDirective)
		if !ok {
			continue
		}
		for _, name := range strings.Split(rest, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tables = append(tables, name)
			}
		}
	}
	return tables
}
