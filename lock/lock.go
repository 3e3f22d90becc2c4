// Package lock provides lease locks: mutual exclusion that expires on its own.
//
// A lease is held by whoever wrote the current token. Acquire never waits;
// callers that want to wait retry themselves. Release deletes the key only if
// it still holds the caller's token, so an expired holder can never free a
// lease that was since granted to someone else.
package lock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrBusy means the lease is held by another owner.
	ErrBusy = errors.New("lock: busy")
	// ErrNotOwner means the lease expired or now belongs to someone else.
	ErrNotOwner = errors.New("lock: not owner")
)

// KeyPrefix is prepended to lease names in the store.
const KeyPrefix = "lock:"

// Locker acquires leases. Implementations are safe for concurrent use.
//
// Acquire returns ErrBusy when the lease is held, and an error marked
// provider.ErrUnavailable when the store cannot be reached; in both cases
// nothing is held.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error)
}

// Lease is a held lock. Release it exactly once, usually with defer.
type Lease struct {
	Name  string
	Token string
	TTL   time.Duration

	released atomic.Bool
	release  func(ctx context.Context) error
}

// Release gives the lease up. Only the first call does anything.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return nil
	}
	return l.release(ctx)
}
