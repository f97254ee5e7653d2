// Package database provisions SQLite connections with the cr-sqlite extension loaded.
//
// This package manages:
//   - Opening a session against a plain path or a file: URI
//   - Loading the native cr-sqlite extension before the handle is returned
//   - The finalize-then-close shutdown path the extension requires
//   - Schema fixtures (additive migrations) for the correctness harness
//
// Lifecycle:
//
// A handle is either open or closed. Connect returns an open handle with the
// extension loaded, or an error and no handle. Close runs select
// crsql_finalize() and releases the session; the handle must not be used
// afterwards and a second Close fails with ErrFinalize.
//
// Each handle pins exactly one SQLite connection. cr-sqlite keeps per-connection
// state (site id, pending clock rows), so finalize must run on the connection
// the extension was loaded into.
//
// Usage:
//
//	db, err := database.Connect("test.db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.AsCRR(ctx, "todo"); err != nil {
//	    log.Fatal(err)
//	}
//
// Alternate extension builds are injected through a Provisioner:
//
//	p := database.NewProvisioner(database.Extension{
//	    Path:       "./dist/crsqlite",
//	    EntryPoint: database.DefaultEntryPoint,
//	})
//	db, err := p.Connect("file:test.db?cache=private", true)
//
// Errors:
//
// Failures are classified by the sentinels in errors.go (ErrOpen,
// ErrExtensionLoad, ErrFinalize, ErrClose). The driver error is always kept
// in the chain so callers can inspect sqlite3.Error codes as well.
package database
