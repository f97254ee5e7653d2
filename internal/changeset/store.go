package changeset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Querier runs read queries. *sql.DB, *sql.Conn, *sql.Tx and database.DB
// all satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxBeginner starts transactions. *sql.DB, *sql.Conn and database.DB satisfy it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// changeColumns lists crsql_changes columns in Change field order.
const changeColumns = `"table", pk, cid, val, col_version, db_version, site_id, cl, seq`

// localSiteExpr resolves the originating site of a row. Older extension
// builds report local rows with a NULL site_id.
const localSiteExpr = "coalesce(site_id, crsql_site_id())"

// Pull reads changes recorded after since, oldest first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - q: Session with the extension loaded
//   - since: Exclusive lower bound; use Start for everything
//   - mode: LocalWrites restricts the result to rows this site originated
//   - limit: Maximum rows returned; 0 means unlimited
//
// Returns:
//   - []Change: Changes ordered by (db_version, seq); site_id is never NULL
//   - error: If the query or a row scan fails
func Pull(ctx context.Context, q Querier, since Cursor, mode Mode, limit int) ([]Change, error) {
	var b strings.Builder
	b.WriteString(`SELECT "table", pk, cid, val, col_version, db_version, `)
	b.WriteString(localSiteExpr)
	b.WriteString(` AS site_id, cl, seq FROM crsql_changes WHERE (db_version > ? OR (db_version = ? AND seq > ?))`)
	args := []any{since.DBVersion, since.DBVersion, since.Seq}

	if mode == LocalWrites {
		b.WriteString(" AND " + localSiteExpr + " = crsql_site_id()")
	}
	b.WriteString(" ORDER BY db_version, seq")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var ch Change
		if err := rows.Scan(
			&ch.Table, &ch.PK, &ch.CID, &ch.Val, &ch.ColVersion,
			&ch.DBVersion, &ch.SiteID, &ch.CL, &ch.Seq,
		); err != nil {
			return nil, fmt.Errorf("scanning change: %w", err)
		}
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating changes: %w", err)
	}
	return changes, nil
}

// Apply merges changes into the database in a single transaction.
// Either every change is merged or none is.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Session with the extension loaded
//   - changes: Changes to merge, typically from another site's Pull
//
// Returns:
//   - error: The first failing insert, naming its position
func Apply(ctx context.Context, db TxBeginner, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	return inTx(ctx, db, func(tx *sql.Tx) error {
		return insertChanges(ctx, tx, changes)
	})
}

// Merge applies changes received from site and records until as the site's
// last-seen cursor, in one transaction. If any insert fails the cursor is
// left where it was.
func Merge(ctx context.Context, db TxBeginner, site uuid.UUID, changes []Change, until Cursor) error {
	return inTx(ctx, db, func(tx *sql.Tx) error {
		if err := insertChanges(ctx, tx, changes); err != nil {
			return err
		}
		return SetLastSeen(ctx, tx, site, until)
	})
}

func inTx(ctx context.Context, db TxBeginner, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing changes: %w", err)
	}
	return nil
}

func insertChanges(ctx context.Context, tx *sql.Tx, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO crsql_changes ("+changeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range changes {
		if _, err := stmt.ExecContext(ctx,
			ch.Table, ch.PK, ch.CID, ch.Val, ch.ColVersion,
			ch.DBVersion, ch.SiteID, ch.CL, ch.Seq,
		); err != nil {
			return fmt.Errorf("applying change %d (%s.%s): %w", i, ch.Table, ch.CID, err)
		}
	}
	return nil
}
