package changeset

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// testSiteID is what crsql_site_id() returns in test databases.
var testSiteID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// peerSiteID is a remote site.
var peerSiteID = uuid.MustParse("1f0e2d3c-4b5a-6978-8796-a5b4c3d2e1f0")

const testDriver = "sqlite3_changeset_test"

var registerDriver sync.Once

// openTestDB opens a database in which crsql_changes is an ordinary table
// with the virtual table's columns, and crsql_site_id() returns testSiteID.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	registerDriver.Do(func() {
		sql.Register(testDriver, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("crsql_site_id", func() []byte {
					return testSiteID[:]
				}, true)
			},
		})
	})

	db, err := sql.Open(testDriver, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	_, err = db.Exec(`
		CREATE TABLE crsql_changes (
			"table" TEXT NOT NULL CHECK ("table" <> ''),
			pk BLOB NOT NULL,
			cid TEXT NOT NULL,
			val,
			col_version INTEGER NOT NULL,
			db_version INTEGER NOT NULL,
			site_id BLOB,
			cl INTEGER NOT NULL,
			seq INTEGER NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("creating crsql_changes: %v", err)
	}
	return db
}

// change builds a row for table todo at (dbVersion, seq) from site.
func change(dbVersion, seq int64, site uuid.UUID, val Value) Change {
	return Change{
		Table:      "todo",
		PK:         []byte{0x01, 0x09, byte(dbVersion)},
		CID:        "text",
		Val:        val,
		ColVersion: 1,
		DBVersion:  dbVersion,
		SiteID:     site[:],
		CL:         1,
		Seq:        seq,
	}
}
