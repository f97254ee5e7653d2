package database

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mattn/go-sqlite3"
)

// stubSiteID is what the stub extension reports from crsql_site_id().
var stubSiteID = []byte{
	0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1,
	0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8,
}

// stubExtension stands in for the native artifact. It registers Go
// implementations of the cr-sqlite functions this package calls and records
// the order in which they ran.
type stubExtension struct {
	mu         sync.Mutex
	loads      int
	events     []string
	noFinalize bool
	loadErr    error
}

func (s *stubExtension) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *stubExtension) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *stubExtension) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func (s *stubExtension) load(conn *sqlite3.SQLiteConn, _ Extension) error {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()

	if s.loadErr != nil {
		return s.loadErr
	}

	funcs := map[string]any{
		"crsql_dbversion": func() int64 { return 0 },
		"crsql_site_id":   func() []byte { return stubSiteID },
		"crsql_as_crr": func(table string) string {
			s.record("as_crr:" + table)
			return "OK"
		},
	}
	if !s.noFinalize {
		funcs["crsql_finalize"] = func() int64 {
			s.record("finalize")
			return 0
		}
	}
	for name, fn := range funcs {
		if err := conn.RegisterFunc(name, fn, false); err != nil {
			return err
		}
	}
	return nil
}

// newStubProvisioner returns a Provisioner whose loader is stub.
func newStubProvisioner(stub *stubExtension) *Provisioner {
	p := NewProvisioner(DefaultExtension())
	p.load = stub.load
	return p
}

// openTestDB creates a temporary database with the stub extension loaded.
func openTestDB(t *testing.T) (*DB, *stubExtension) {
	t.Helper()

	stub := &stubExtension{}
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := newStubProvisioner(stub).Connect(dbPath, false)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db, stub
}

// realExtension returns the compiled cr-sqlite artifact named by
// CRSQLITE_EXTENSION, skipping the test when it is not available.
func realExtension(t *testing.T) Extension {
	t.Helper()

	path := os.Getenv("CRSQLITE_EXTENSION")
	if path == "" {
		t.Skip("CRSQLITE_EXTENSION not set; skipping test against the native extension")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// SQLite resolves a missing suffix itself; only skip when neither exists.
		matches, _ := filepath.Glob(path + ".*") //nolint:errcheck // Pattern is static
		if len(matches) == 0 {
			t.Skipf("extension %s not found", path)
		}
	}
	ext := DefaultExtension()
	ext.Path = path
	return ext
}
