package workspace

import (
	"errors"

	"github.com/amonks/workcache/internal/keys"
)

var (
	// ErrInvalidKey indicates a key that is empty, absolute, escapes the
	// root, or does not match the tracked depth.
	ErrInvalidKey = keys.ErrInvalid
	// ErrClosed indicates the provider was already closed.
	ErrClosed = errors.New("workspace provider is closed")
	// ErrBusy indicates a forced cleanup was skipped because the cache is
	// in use.
	ErrBusy = errors.New("cache is in use")
)
