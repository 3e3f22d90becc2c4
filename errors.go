package stampede

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the key does not exist in the backing store, either
	// because a null marker says so or because the loader reported it absent.
	ErrNotFound = errors.New("stampede: not found")
	// ErrLockBusy means the rebuild lease stayed held for MaxAttempts reads.
	ErrLockBusy = errors.New("stampede: rebuild lock busy")

	errBusy = errors.New("stampede: busy")
)

// InvalidateError is returned when a cached key could not be deleted.
// The entry will still age out by its TTL (or its logical expiry).
type InvalidateError struct {
	Key    string
	DelErr error
}

func (e *InvalidateError) Error() string {
	return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
}

func (e *InvalidateError) Unwrap() error { return e.DelErr }

// LoadError wraps a failure of Options.Load.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %q: %v", e.Key, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }
