package changeset

import "errors"

// Sentinel errors for changeset operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidValue is returned when a value cannot be represented as a SQLite value.
	ErrInvalidValue = errors.New("changeset: invalid value")

	// ErrInvalidBatch is returned when a decoded batch is malformed.
	ErrInvalidBatch = errors.New("changeset: invalid batch")

	// ErrUnknownMode is returned when a stream mode name is not recognised.
	ErrUnknownMode = errors.New("changeset: unknown stream mode")
)
