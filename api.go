package stampede

import (
	"context"
	"fmt"
	"strings"
	"time"

	c "github.com/unkn0wn-root/stampede/codec"
	"github.com/unkn0wn-root/stampede/lock"
	"github.com/unkn0wn-root/stampede/pool"
	pr "github.com/unkn0wn-root/stampede/provider"
)

// Strategy selects how Get handles misses and expiry.
type Strategy int

const (
	PassThrough Strategy = iota
	Mutex
	LogicalExpire
)

func (s Strategy) String() string {
	switch s {
	case PassThrough:
		return "passthrough"
	case Mutex:
		return "mutex"
	case LogicalExpire:
		return "logical"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy accepts the names printed by Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "passthrough", "pass-through":
		return PassThrough, nil
	case "mutex":
		return Mutex, nil
	case "logical", "logical-expire":
		return LogicalExpire, nil
	}
	return 0, fmt.Errorf("stampede: unknown strategy %q", s)
}

// LoadFunc reads key from the authoritative store. found=false with a nil
// error means the key does not exist there.
type LoadFunc[V any] func(ctx context.Context, key string) (v V, found bool, err error)

// WriteFunc performs an authoritative write, in its own transaction.
type WriteFunc func(ctx context.Context) error

type SetCostFunc func(key string, raw []byte) int64

// Cache is the read-through cache over one namespace of entities.
// All reads return ErrNotFound when the entity does not exist.
type Cache[V any] interface {
	// Get dispatches to the configured Strategy.
	Get(ctx context.Context, key string) (V, error)

	GetPassThrough(ctx context.Context, key string) (V, error)
	GetWithMutex(ctx context.Context, key string) (V, error)
	GetWithLogicalExpire(ctx context.Context, key string) (V, error)

	// Set writes a value entry with Options.TTL.
	Set(ctx context.Context, key string, v V) error
	// SetLogical writes a logical entry expiring after ttl (0 => LogicalTTL).
	// Hot keys served by LogicalExpire must be pre-warmed with it.
	SetLogical(ctx context.Context, key string, v V, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error

	// Update runs write, then deletes the cached key. A failed delete is
	// logged and hooked but not returned; the write already happened.
	Update(ctx context.Context, key string, write WriteFunc) error

	Enabled() bool
	Close(context.Context) error
}

// Options tune the behavior of the cache.
// Namespace, Provider, Codec and Load are required; others have defaults.
type Options[V any] struct {
	// Required
	Namespace string // e.g. "shop"
	Provider  pr.Provider
	Codec     c.Codec[V]
	Load      LoadFunc[V]

	// A provider implementing pr.TTLIgnorer gets TTL and NullTTL stamped
	// into its frames and cannot back LogicalExpire.

	Locker   lock.Locker // nil => in-process lock.Local
	Pool     *pool.Pool  // rebuild pool; nil => owned pool of 10 workers
	Strategy Strategy    // default PassThrough

	TTL         time.Duration // value entries; 0 => 30m
	NullTTL     time.Duration // null markers; 0 => 2m
	LockTTL     time.Duration // rebuild lease; 0 => 10s
	LogicalTTL  time.Duration // logical entries; 0 => 20m
	RetryDelay  time.Duration // Mutex wait between reads; 0 => 50ms
	MaxAttempts int           // Mutex reads before ErrLockBusy; 0 => 40

	Logger         Logger      // if nil, NopLogger is used
	Hooks          Hooks       // if nil, NopHooks is used
	ComputeSetCost SetCostFunc // default 1
	Disabled       bool        // reads go straight to Load
	Now            func() time.Time
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
