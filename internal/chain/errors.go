package chain

import "errors"

// Source errors.
var (
	// ErrNoPair indicates the factory has no pair for the token.
	ErrNoPair = errors.New("no trading pair for token")

	// ErrNotConnected indicates the source's transport is down.
	ErrNotConnected = errors.New("source not connected")
)
