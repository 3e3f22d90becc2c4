// Package provider defines the byte store the cache sits on.
//
// Implementations must be byte-for-byte transparent: Get returns exactly the
// []byte passed to Set for the key. The "cache:<ns>:" keyspace belongs to the
// cache; foreign writes there fail frame validation and are deleted on read.
package provider

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrUnavailable marks errors caused by the backing store being unreachable
// (network, timeout, open circuit). Test with errors.Is.
//
// The cache read path treats it as a miss; lock acquisition treats it as
// "not acquired" and surfaces it to the caller.
var ErrUnavailable = errors.New("provider: store unavailable")

// Unavailable marks err as ErrUnavailable, keeping its message and chain.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return &unavailableError{cause: err}
}

type unavailableError struct{ cause error }

func (e *unavailableError) Error() string   { return e.cause.Error() }
func (e *unavailableError) Unwrap() []error { return []error{e.cause, ErrUnavailable} }

// Provider is a byte store with per-key TTLs. Safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	// cost may be ignored. ok=false means the store refused the write.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

// TTLIgnorer is implemented by providers that keep entries past the ttl
// passed to Set, such as stores with one lifetime for every key. The cache
// stamps a hard deadline into frames written to them.
type TTLIgnorer interface {
	IgnoresTTL() bool
}

// IgnoresTTL reports whether p (or the provider it wraps) drops per-call TTLs.
func IgnoresTTL(p Provider) bool {
	t, ok := p.(TTLIgnorer)
	return ok && t.IgnoresTTL()
}
