package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Extension defaults. The path is relative to the correctness harness
// working directory and points at the artifact produced by the core build.
const (
	// DefaultExtensionPath is the on-disk location of the cr-sqlite artifact.
	// SQLite appends the platform suffix (.so, .dylib, .dll) when it is missing.
	DefaultExtensionPath = "../../core/dist/crsqlite"

	// DefaultEntryPoint is the extension's init symbol.
	DefaultEntryPoint = "sqlite3_crsqlite_init"

	// MinDBVersion is the lowest db_version the harness considers valid.
	// Nothing in this package enforces it.
	MinDBVersion int64 = 0
)

// Database configuration constants.
const (
	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout bounds establishing the session and loading the extension.
	connectionTimeout = 5 * time.Second

	// finalizeQuery lets the extension release its per-connection state.
	finalizeQuery = "SELECT crsql_finalize()"
)

// Extension identifies the native module loaded into every session.
type Extension struct {
	// Path is the filesystem location of the compiled extension.
	Path string

	// EntryPoint is the init symbol passed to sqlite3_load_extension.
	EntryPoint string

	// MinDBVersion is exposed to harness code through Provisioner.MinDBVersion.
	MinDBVersion int64
}

// DefaultExtension returns the extension settings used by Connect.
func DefaultExtension() Extension {
	return Extension{
		Path:         DefaultExtensionPath,
		EntryPoint:   DefaultEntryPoint,
		MinDBVersion: MinDBVersion,
	}
}

// Config contains per-session options.
// These map to the database section of config.yaml.
type Config struct {
	// Path is a filesystem path, or a file: URI when URI is true.
	Path string

	// URI selects URI interpretation of Path.
	URI bool

	// WALMode enables Write-Ahead Logging.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	// Zero leaves the SQLite default in place.
	BusyTimeout int
}

// loadFunc loads ext into a freshly opened driver connection.
type loadFunc func(conn *sqlite3.SQLiteConn, ext Extension) error

// Provisioner opens extension-augmented sessions.
// Its extension settings are fixed at construction.
type Provisioner struct {
	ext  Extension
	load loadFunc
}

// NewProvisioner creates a Provisioner that loads ext into every session.
// An empty entry point falls back to DefaultEntryPoint.
func NewProvisioner(ext Extension) *Provisioner {
	if ext.EntryPoint == "" {
		ext.EntryPoint = DefaultEntryPoint
	}
	return &Provisioner{
		ext:  ext,
		load: loadExtension,
	}
}

var defaultProvisioner = NewProvisioner(DefaultExtension())

// Connect opens path with the default extension loaded.
//
// Parameters:
//   - path: Filesystem path, or a file: URI when uri is true
//   - uri: Interpret path as a URI-style locator
//
// Returns:
//   - *DB: Open handle with the extension loaded
//   - error: ErrOpen or ErrExtensionLoad class; the handle is nil
func Connect(path string, uri bool) (*DB, error) {
	return defaultProvisioner.Connect(path, uri)
}

// Extension returns the extension settings this provisioner loads.
func (p *Provisioner) Extension() Extension {
	return p.ext
}

// MinDBVersion returns the lowest db_version the harness considers valid.
func (p *Provisioner) MinDBVersion() int64 {
	return p.ext.MinDBVersion
}

// Connect opens path with this provisioner's extension loaded.
func (p *Provisioner) Connect(path string, uri bool) (*DB, error) {
	return p.Open(context.Background(), Config{Path: path, URI: uri})
}

// Open creates a new session with the specified configuration.
//
// It performs the following setup:
//  1. Builds the connection string (plain path or URI, plus pragmas)
//  2. Opens the database file (creates if not present)
//  3. Enables extension loading and loads the extension
//  4. Pins the single connection the handle will use
//
// If the extension fails to load, the session that was opened for it is
// closed before the error is returned.
//
// Parameters:
//   - ctx: Context for timeout/cancellation while connecting
//   - cfg: Session configuration
//
// Returns:
//   - *DB: Open handle with the extension loaded
//   - error: ErrOpen or ErrExtensionLoad class; the handle is nil
func (p *Provisioner) Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	drv := &sqlite3.SQLiteDriver{
		ConnectHook: p.connectHook,
	}
	pool := sql.OpenDB(&connector{driver: drv, dsn: dsn})

	// One connection for the life of the handle: the extension's state lives
	// on it and finalize must reach the same connection.
	pool.SetMaxOpenConns(1)
	pool.SetMaxIdleConns(1)
	pool.SetConnMaxLifetime(0)
	pool.SetConnMaxIdleTime(0)

	connCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	conn, err := pool.Conn(connCtx)
	if err != nil {
		pool.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, classifyConnectError(cfg.Path, err)
	}

	return &DB{
		Conn: conn,
		pool: pool,
		path: cfg.Path,
		uri:  cfg.URI,
		ext:  p.ext,
	}, nil
}

// connectHook runs on the driver connection right after sqlite3_open_v2.
// An error here makes the driver close the connection it just opened.
func (p *Provisioner) connectHook(conn *sqlite3.SQLiteConn) error {
	if err := p.load(conn, p.ext); err != nil {
		return &extensionError{path: p.ext.Path, err: err}
	}
	return nil
}

// loadExtension enables extension loading on conn and loads ext.
func loadExtension(conn *sqlite3.SQLiteConn, ext Extension) error {
	return conn.LoadExtension(ext.Path, ext.EntryPoint)
}

// extensionError marks a failure raised by the connect hook so it can be
// told apart from open failures once database/sql hands it back.
type extensionError struct {
	path string
	err  error
}

func (e *extensionError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.path, e.err)
}

func (e *extensionError) Unwrap() error {
	return e.err
}

// classifyConnectError maps a failed pool.Conn onto ErrExtensionLoad or ErrOpen.
func classifyConnectError(path string, err error) error {
	var extErr *extensionError
	if errors.As(err, &extErr) {
		return fmt.Errorf("%w: %s: %w", ErrExtensionLoad, extErr.path, extErr.err)
	}
	return fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
}

// connector hands database/sql a driver bound to one DSN, so no global
// driver registration is needed per extension path.
type connector struct {
	driver *sqlite3.SQLiteDriver
	dsn    string
}

func (c *connector) Connect(_ context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c *connector) Driver() driver.Driver {
	return c.driver
}

// DB is an open cr-sqlite session.
//
// The embedded *sql.Conn exposes the standard query interface
// (QueryContext, QueryRowContext, PrepareContext, Raw). Close is replaced by
// the finalize-then-close shutdown path.
type DB struct {
	*sql.Conn
	pool *sql.DB
	path string
	uri  bool
	ext  Extension

	mu        sync.Mutex
	listeners []closeListener
	nextID    int
	closed    bool
}

type closeListener struct {
	id int
	fn func()
}

// Close finalizes the extension and closes the session.
//
// It performs:
//  1. Runs close listeners in registration order
//  2. Executes select crsql_finalize() on the pinned connection
//  3. Closes the connection and the session
//
// The session is released even when finalize fails; both failures are
// reported.
//
// Returns:
//   - error: ErrFinalize and/or ErrClose class
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrFinalize, sql.ErrConnDone)
	}
	db.closed = true
	listeners := db.listeners
	db.listeners = nil
	db.mu.Unlock()

	for _, l := range listeners {
		l.fn()
	}

	var finalizeErr error
	if _, err := db.Conn.ExecContext(context.Background(), finalizeQuery); err != nil {
		finalizeErr = fmt.Errorf("%w: %w", ErrFinalize, err)
	}

	closeErr := db.closeSession()
	if finalizeErr != nil {
		if closeErr != nil {
			return fmt.Errorf("%w; %w", finalizeErr, closeErr)
		}
		return finalizeErr
	}
	return closeErr
}

func (db *DB) closeSession() error {
	if err := db.Conn.Close(); err != nil {
		db.pool.Close() //nolint:errcheck // Pool close only reports the same failure
		return fmt.Errorf("%w: %w", ErrClose, err)
	}
	if err := db.pool.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrClose, err)
	}
	return nil
}

// OnClose registers fn to run when Close is called, before finalize.
// The returned function removes the listener.
func (db *DB) OnClose(fn func()) (remove func()) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextID++
	id := db.nextID
	db.listeners = append(db.listeners, closeListener{id: id, fn: fn})

	return func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		for i, l := range db.listeners {
			if l.id == id {
				db.listeners = append(db.listeners[:i], db.listeners[i+1:]...)
				return
			}
		}
	}
}

// IsClosed reports whether Close has been called.
func (db *DB) IsClosed() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.closed
}

// Path returns the locator the session was opened with.
func (db *DB) Path() string {
	return db.path
}

// URI reports whether Path was interpreted as a URI.
func (db *DB) URI() bool {
	return db.uri
}

// Extension returns the extension settings loaded into this session.
func (db *DB) Extension() Extension {
	return db.ext
}

// HealthCheck verifies the session is accessible and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.Conn.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// ExecContext executes a query that doesn't return rows.
// This is a convenience wrapper that provides consistent error handling.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - query: SQL query with ? placeholders
//   - args: Arguments for placeholders
//
// Returns:
//   - sql.Result: Contains LastInsertId and RowsAffected
//   - error: If execution fails
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}

// BeginTx starts a new transaction on the pinned connection.
//
// Example:
//
//	tx, err := db.BeginTx(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback() // No-op if committed
//
//	// ... execute queries on tx ...
//
//	return tx.Commit()
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.Conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
