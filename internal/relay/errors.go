package relay

import "errors"

// Sentinel errors for relay operations.
//
//	if errors.Is(err, relay.ErrStopped) {
//	    // the batch arrived after Run returned
//	}
var (
	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("relay: invalid options")

	// ErrStopped is returned for messages that arrive after Run has returned.
	ErrStopped = errors.New("relay: stopped")

	// ErrPanic is returned by Run when a relay goroutine panicked.
	ErrPanic = errors.New("relay: worker panicked")
)
