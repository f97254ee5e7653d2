package database

import "errors"

// Failure classes for the connection lifecycle.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrOpen is returned when a session cannot be established at the given locator.
	ErrOpen = errors.New("database: open failed")

	// ErrExtensionLoad is returned when the native extension is missing,
	// incompatible, or fails its own initialisation.
	ErrExtensionLoad = errors.New("database: extension load failed")

	// ErrFinalize is returned when select crsql_finalize() is rejected,
	// including when the handle has already been closed.
	ErrFinalize = errors.New("database: extension finalize failed")

	// ErrClose is returned when the underlying session fails to close.
	ErrClose = errors.New("database: close failed")
)
