// Package common defines the sentinel errors shared by the client core and
// the reference backend. Callers match them with errors.Is; boundary
// adapters construct them exactly once where a raw error is caught.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means an operation was attempted without a
	// signed-in identity. It is rejected before any store access.
	ErrAuthRequired = errors.New("auth required")

	// ErrValidation means malformed or missing input, rejected
	// synchronously.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound means a lookup (invite code, document) resolved to
	// nothing.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the pair is full, the caller lost a concurrent
	// join race, or a conditional update hit a stale version.
	ErrConflict = errors.New("conflict")

	// ErrNetwork means a transient I/O failure talking to the store.
	ErrNetwork = errors.New("network unavailable")
)

// ErrCodeSpaceExhausted is surfaced when invite code generation keeps
// colliding past the bounded retry count. Treated as a fatal
// configuration problem, not a user error.
var ErrCodeSpaceExhausted = fmt.Errorf("%w: invite code space exhausted", ErrConflict)
