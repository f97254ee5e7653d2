package changeset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Execer runs statements that don't return rows.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// QueryRower runs single-row queries.
type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// peersTable records how far each remote site has been merged. It is local
// bookkeeping and is never upgraded to a CRR.
const peersTable = "harness_peers"

// EnsurePeersTable creates the last-seen table if it does not exist.
func EnsurePeersTable(ctx context.Context, db Execer) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+peersTable+` (
			site_id BLOB PRIMARY KEY NOT NULL,
			db_version INTEGER NOT NULL,
			seq INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("creating peers table: %w", err)
	}
	return nil
}

// LastSeen returns the latest cursor merged from site, or Start if nothing
// from it has been merged yet.
func LastSeen(ctx context.Context, db QueryRower, site uuid.UUID) (Cursor, error) {
	var c Cursor
	err := db.QueryRowContext(ctx,
		"SELECT db_version, seq FROM "+peersTable+" WHERE site_id = ?", site[:],
	).Scan(&c.DBVersion, &c.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Start, nil
	}
	if err != nil {
		return Start, fmt.Errorf("reading last seen for %s: %w", site, err)
	}
	return c, nil
}

// SetLastSeen records c as the latest cursor merged from site.
// The stored cursor never moves backwards.
func SetLastSeen(ctx context.Context, db Execer, site uuid.UUID, c Cursor) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO `+peersTable+` (site_id, db_version, seq) VALUES (?, ?, ?)
		ON CONFLICT(site_id) DO UPDATE SET db_version = excluded.db_version, seq = excluded.seq
		WHERE excluded.db_version > db_version
			OR (excluded.db_version = db_version AND excluded.seq > seq)
	`, site[:], c.DBVersion, c.Seq)
	if err != nil {
		return fmt.Errorf("recording last seen for %s: %w", site, err)
	}
	return nil
}
