package license

import (
	"errors"
	"fmt"
)

// Errors returned by the Binder.
var (
	ErrInvalidRequest   = errors.New("invalid request: activation key and device id are required")
	ErrStoreUnavailable = errors.New("binding store unavailable")
)

// Errors returned by Store implementations.
var (
	// ErrAlreadyBound is returned by Set when the key was bound by another
	// writer between the read and the write.
	ErrAlreadyBound = errors.New("activation key already bound")
	// ErrNotFound is returned by Set when the key has no record.
	ErrNotFound = errors.New("activation key not found")
	// ErrKeyExists is returned by Provision for a key that already has a record.
	ErrKeyExists = errors.New("activation key already provisioned")
	// ErrMalformedRecord marks stored data that violates the record invariants.
	ErrMalformedRecord = errors.New("malformed binding record")
)

// storeUnavailable wraps a store failure so that it matches both
// ErrStoreUnavailable and the underlying cause.
func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
