package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// cr-sqlite catalogue constants.
const (
	// ExtensionVersion is the cr-sqlite release this harness targets (MM_mm_pp_xx).
	ExtensionVersion = 15_00_00

	// SiteIDLen is the byte length of a site identifier.
	SiteIDLen = 16

	// SiteIDTable holds the local site identifier.
	SiteIDTable = "__crsql_siteid"

	// SchemaTable records cr-sqlite's own schema version.
	SchemaTable = "crsql_master"

	// ClockTableSuffix names the per-table clock companion of a CRR.
	ClockTableSuffix = "__crsql_clock"
)

// DBVersion returns the current logical clock of the database.
func (db *DB) DBVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := db.Conn.QueryRowContext(ctx, "SELECT crsql_dbversion()").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading db version: %w", err)
	}
	return v, nil
}

// SiteID returns the identifier cr-sqlite assigned to this database.
func (db *DB) SiteID(ctx context.Context) (uuid.UUID, error) {
	var raw []byte
	if err := db.Conn.QueryRowContext(ctx, "SELECT crsql_site_id()").Scan(&raw); err != nil {
		return uuid.Nil, fmt.Errorf("reading site id: %w", err)
	}
	if len(raw) != SiteIDLen {
		return uuid.Nil, fmt.Errorf("reading site id: got %d bytes, want %d", len(raw), SiteIDLen)
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("reading site id: %w", err)
	}
	return id, nil
}

// AsCRR upgrades table to a conflict-free replicated relation.
// Upgrading a table that is already a CRR is a no-op in the extension.
func (db *DB) AsCRR(ctx context.Context, table string) error {
	if table == "" {
		return fmt.Errorf("upgrading table: name is required")
	}
	if _, err := db.Conn.ExecContext(ctx, "SELECT crsql_as_crr(?)", table); err != nil {
		return fmt.Errorf("upgrading %s to crr: %w", table, err)
	}
	return nil
}

// CRRTables returns the tables that carry a cr-sqlite clock companion.
func (db *DB) CRRTables(ctx context.Context) ([]string, error) {
	rows, err := db.Conn.QueryContext(ctx,
		"SELECT tbl_name FROM sqlite_master WHERE type='table' AND tbl_name LIKE ? ORDER BY tbl_name",
		"%"+ClockTableSuffix,
	)
	if err != nil {
		return nil, fmt.Errorf("querying clock tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning clock table: %w", err)
		}
		tables = append(tables, strings.TrimSuffix(name, ClockTableSuffix))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating clock tables: %w", err)
	}
	return tables, nil
}
