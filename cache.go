package stampede

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	cc "github.com/unkn0wn-root/stampede/codec"
	"github.com/unkn0wn-root/stampede/internal/wire"
	"github.com/unkn0wn-root/stampede/lock"
	"github.com/unkn0wn-root/stampede/pool"
	pr "github.com/unkn0wn-root/stampede/provider"
)

const (
	defaultTTL         = 30 * time.Minute
	defaultNullTTL     = 2 * time.Minute
	defaultLockTTL     = 10 * time.Second
	defaultLogicalTTL  = 20 * time.Minute
	defaultRetryDelay  = 50 * time.Millisecond
	defaultMaxAttempts = 40

	defaultRebuildWorkers = 10
	defaultRebuildQueue   = 1024
)

type cache[V any] struct {
	ns       string
	provider pr.Provider
	codec    cc.Codec[V]
	load     LoadFunc[V]
	locker   lock.Locker
	pool     *pool.Pool
	ownsPool bool
	strategy Strategy
	log      Logger
	hooks    Hooks
	enabled  bool
	now      func() time.Time
	// provider keeps entries past their ttl; frames carry the deadline
	stampDeadline bool

	ttl            time.Duration
	nullTTL        time.Duration
	lockTTL        time.Duration
	logicalTTL     time.Duration
	retryDelay     time.Duration
	maxAttempts    int
	computeSetCost SetCostFunc

	sf singleflight.Group
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("stampede: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("stampede: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("stampede: namespace is required")
	}
	if opts.Load == nil {
		return nil, fmt.Errorf("stampede: load func is required")
	}
	switch opts.Strategy {
	case PassThrough, Mutex, LogicalExpire:
	default:
		return nil, fmt.Errorf("stampede: unknown strategy %v", opts.Strategy)
	}
	ignoresTTL := pr.IgnoresTTL(opts.Provider)
	if ignoresTTL && opts.Strategy == LogicalExpire {
		return nil, fmt.Errorf("stampede: logical expiry needs a provider that keeps entries until deleted")
	}

	c := &cache[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		load:     opts.Load,
		strategy: opts.Strategy,
		enabled:  !opts.Disabled,

		stampDeadline: ignoresTTL,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.locker = opts.Locker
	if c.locker == nil {
		c.locker = lock.NewLocal()
	}
	c.pool = opts.Pool
	if c.pool == nil {
		c.pool = pool.New(defaultRebuildWorkers, defaultRebuildQueue)
		c.ownsPool = true
	}
	c.now = opts.Now
	if c.now == nil {
		c.now = time.Now
	}
	c.ttl = coalesce(opts.TTL, defaultTTL)
	c.nullTTL = coalesce(opts.NullTTL, defaultNullTTL)
	c.lockTTL = coalesce(opts.LockTTL, defaultLockTTL)
	c.logicalTTL = coalesce(opts.LogicalTTL, defaultLogicalTTL)
	c.retryDelay = coalesce(opts.RetryDelay, defaultRetryDelay)
	c.maxAttempts = coalesce(opts.MaxAttempts, defaultMaxAttempts)

	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	} else {
		c.computeSetCost = func(string, []byte) int64 { return 1 }
	}
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

// Close closes the provider and, if the cache created it, the rebuild pool.
// A pool passed in Options belongs to the caller.
func (c *cache[V]) Close(ctx context.Context) error {
	if c.ownsPool {
		c.pool.Close()
	}
	return c.provider.Close(ctx)
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, error) {
	switch c.strategy {
	case Mutex:
		return c.GetWithMutex(ctx, key)
	case LogicalExpire:
		return c.GetWithLogicalExpire(ctx, key)
	default:
		return c.GetPassThrough(ctx, key)
	}
}

func (c *cache[V]) GetPassThrough(ctx context.Context, key string) (V, error) {
	if !c.enabled {
		return c.loadOnly(ctx, key)
	}
	k := c.storageKey(key)
	v, outcome, err := c.lookup(ctx, k)
	c.hooks.Lookup(c.ns, outcome)
	if outcome != OutcomeMiss {
		return v, err
	}
	return c.loadAndFill(ctx, key, k)
}

func (c *cache[V]) GetWithMutex(ctx context.Context, key string) (V, error) {
	if !c.enabled {
		return c.loadOnly(ctx, key)
	}
	var zero V
	k := c.storageKey(key)

	for attempt := 1; ; attempt++ {
		v, outcome, err := c.lookup(ctx, k)
		if outcome != OutcomeMiss {
			c.hooks.Lookup(c.ns, outcome)
			return v, err
		}

		// callers in this process share one lease attempt per key. The
		// attempt outlives the caller that started it; each caller waits on
		// its own ctx.
		ch := c.sf.DoChan(k, func() (any, error) {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lockTTL)
			defer cancel()
			return c.rebuildLocked(rctx, key, k)
		})
		var res singleflight.Result
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res = <-ch:
		}
		if !errors.Is(res.Err, errBusy) {
			c.hooks.Lookup(c.ns, OutcomeMiss)
			if res.Err != nil {
				return zero, res.Err
			}
			v, _ := res.Val.(V)
			return v, nil
		}

		c.hooks.LockContended(k)
		if attempt >= c.maxAttempts {
			return zero, ErrLockBusy
		}
		if err := sleep(ctx, c.retryDelay); err != nil {
			return zero, err
		}
	}
}

// rebuildLocked loads key under its lease. It returns errBusy when the lease
// is held elsewhere and a marked provider error when the lock store is down;
// it never loads without the lease.
func (c *cache[V]) rebuildLocked(ctx context.Context, key, k string) (V, error) {
	var zero V
	lease, err := c.locker.Acquire(ctx, c.lockName(key), c.lockTTL)
	if errors.Is(err, lock.ErrBusy) {
		return zero, errBusy
	}
	if err != nil {
		c.log.Warn("rebuild lock unavailable", Fields{"key": key, "err": err})
		return zero, err
	}
	defer c.release(ctx, lease)

	// someone may have filled it between our miss and the acquire
	if v, outcome, err := c.lookup(ctx, k); outcome != OutcomeMiss {
		return v, err
	}
	return c.loadAndFill(ctx, key, k)
}

func (c *cache[V]) GetWithLogicalExpire(ctx context.Context, key string) (V, error) {
	if !c.enabled {
		return c.loadOnly(ctx, key)
	}
	var zero V
	k := c.storageKey(key)

	// only pre-warmed keys are served; absence means not a hot key. An
	// unreachable store degrades to the same miss, read already hooked it.
	e, ok, err := c.read(ctx, k)
	if err != nil || !ok || e.Kind == wire.KindNull {
		c.hooks.Lookup(c.ns, OutcomeMiss)
		return zero, ErrNotFound
	}
	expired := e.Expired(c.now())
	if expired && e.Kind != wire.KindLogical {
		// a value frame past its hard deadline is never served
		c.hooks.Lookup(c.ns, OutcomeMiss)
		return zero, ErrNotFound
	}
	v, ok := c.decode(ctx, k, e.Payload)
	if !ok {
		c.hooks.Lookup(c.ns, OutcomeMiss)
		return zero, ErrNotFound
	}
	if !expired {
		c.hooks.Lookup(c.ns, OutcomeHit)
		return v, nil
	}

	c.hooks.Lookup(c.ns, OutcomeStale)
	c.scheduleRebuild(ctx, key, k)
	return v, nil
}

func (c *cache[V]) scheduleRebuild(ctx context.Context, key, k string) {
	lease, err := c.locker.Acquire(ctx, c.lockName(key), c.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			c.hooks.LockContended(k)
		} else {
			c.log.Warn("rebuild lock unavailable", Fields{"key": key, "err": err})
		}
		return
	}

	if e, ok, err := c.read(ctx, k); err == nil && ok && e.Kind == wire.KindLogical && !e.Expired(c.now()) {
		c.release(ctx, lease)
		return
	}

	submitted := c.pool.Submit(func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lockTTL)
		defer cancel()
		defer c.release(rctx, lease)

		if err := c.rebuildLogical(rctx, key, k); err != nil {
			c.hooks.RebuildFailed(k, err)
			c.log.Warn("logical rebuild failed", Fields{"key": key, "err": err})
		}
	})
	if !submitted {
		c.release(ctx, lease)
		c.hooks.RebuildDropped(k)
		c.log.Warn("rebuild pool full; serving stale", Fields{"key": key})
		return
	}
	c.hooks.RebuildScheduled(k)
}

func (c *cache[V]) rebuildLogical(ctx context.Context, key, k string) error {
	v, found, err := c.load(ctx, key)
	if err != nil {
		return &LoadError{Key: key, Err: err}
	}
	if !found {
		// gone from the store; stop serving the stale copy
		return c.del(ctx, k)
	}
	return c.setLogical(ctx, k, v, c.logicalTTL)
}

func (c *cache[V]) Set(ctx context.Context, key string, v V) error {
	if !c.enabled {
		return nil
	}
	payload, err := c.codec.Encode(v)
	if err != nil {
		return err
	}
	return c.write(ctx, c.storageKey(key), wire.EncodeValue(c.deadline(c.ttl), payload), c.ttl)
}

func (c *cache[V]) SetLogical(ctx context.Context, key string, v V, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	return c.setLogical(ctx, c.storageKey(key), v, coalesce(ttl, c.logicalTTL))
}

func (c *cache[V]) setLogical(ctx context.Context, k string, v V, ttl time.Duration) error {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return err
	}
	return c.write(ctx, k, wire.EncodeLogical(c.now().Add(ttl), payload), 0)
}

func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	if err := c.del(ctx, c.storageKey(key)); err != nil {
		c.hooks.InvalidateFailed(key, err)
		return &InvalidateError{Key: key, DelErr: err}
	}
	c.log.Debug("invalidated key", Fields{"key": key})
	return nil
}

func (c *cache[V]) Update(ctx context.Context, key string, write WriteFunc) error {
	if err := write(ctx); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, key); err != nil {
		c.log.Warn("cache invalidate after write failed; entry expires by ttl",
			Fields{"key": key, "err": err})
	}
	return nil
}

// lookup reads and classifies one entry. outcome is OutcomeHit, OutcomeNull
// (err = ErrNotFound) or OutcomeMiss. Provider errors and undecodable entries
// are misses, and so is any frame past its expireAt: a dead value or null
// marker, or a logical entry (only GetWithLogicalExpire serves stale data).
func (c *cache[V]) lookup(ctx context.Context, k string) (V, string, error) {
	var zero V
	e, ok, err := c.read(ctx, k)
	if err != nil || !ok {
		return zero, OutcomeMiss, nil
	}
	switch {
	case e.Expired(c.now()):
		return zero, OutcomeMiss, nil
	case e.Kind == wire.KindNull:
		return zero, OutcomeNull, ErrNotFound
	}
	v, ok := c.decode(ctx, k, e.Payload)
	if !ok {
		return zero, OutcomeMiss, nil
	}
	return v, OutcomeHit, nil
}

func (c *cache[V]) loadAndFill(ctx context.Context, key, k string) (V, error) {
	var zero V
	v, found, err := c.load(ctx, key)
	if err != nil {
		return zero, &LoadError{Key: key, Err: err}
	}
	if !found {
		_ = c.write(ctx, k, wire.EncodeNull(c.deadline(c.nullTTL)), c.nullTTL)
		return zero, ErrNotFound
	}
	if payload, err := c.codec.Encode(v); err != nil {
		c.log.Warn("encode failed; value not cached", Fields{"key": key, "err": err})
	} else {
		_ = c.write(ctx, k, wire.EncodeValue(c.deadline(c.ttl), payload), c.ttl)
	}
	return v, nil
}

func (c *cache[V]) loadOnly(ctx context.Context, key string) (V, error) {
	var zero V
	v, found, err := c.load(ctx, key)
	if err != nil {
		return zero, &LoadError{Key: key, Err: err}
	}
	if !found {
		return zero, ErrNotFound
	}
	return v, nil
}

func (c *cache[V]) read(ctx context.Context, k string) (wire.Entry, bool, error) {
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil {
		c.hooks.ProviderError("get", err)
		c.log.Debug("provider get failed", Fields{"key": k, "err": err})
		return wire.Entry{}, false, err
	}
	if !ok {
		return wire.Entry{}, false, nil
	}
	e, err := wire.Decode(raw)
	if err != nil {
		c.heal(ctx, k, "corrupt")
		return wire.Entry{}, false, nil
	}
	return e, true, nil
}

func (c *cache[V]) decode(ctx context.Context, k string, payload []byte) (V, bool) {
	v, err := c.codec.Decode(payload)
	if err != nil {
		c.heal(ctx, k, "value_decode")
		return v, false
	}
	return v, true
}

func (c *cache[V]) heal(ctx context.Context, k, reason string) {
	_ = c.provider.Del(ctx, k)
	c.hooks.SelfHeal(k, reason)
}

// write failures are hooked and logged; callers that already hold the
// authoritative value ignore the returned error.
func (c *cache[V]) write(ctx context.Context, k string, frame []byte, ttl time.Duration) error {
	ok, err := c.provider.Set(ctx, k, frame, c.computeSetCost(k, frame), ttl)
	if err != nil {
		c.hooks.ProviderError("set", err)
		c.log.Warn("provider set failed", Fields{"key": k, "err": err})
		return err
	}
	if !ok {
		c.hooks.ProviderSetRejected(k)
		c.log.Debug("set rejected by provider (pressure)", Fields{"key": k})
	}
	return nil
}

func (c *cache[V]) del(ctx context.Context, k string) error {
	if err := c.provider.Del(ctx, k); err != nil {
		c.hooks.ProviderError("del", err)
		return err
	}
	return nil
}

func (c *cache[V]) release(ctx context.Context, lease *lock.Lease) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		c.log.Warn("rebuild lock release failed", Fields{"lock": lease.Name, "err": err})
	}
}

// deadline is the hard expiry stamped into value and null frames. Zero leaves
// expiry to the provider.
func (c *cache[V]) deadline(ttl time.Duration) time.Time {
	if !c.stampDeadline || ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *cache[V]) storageKey(key string) string { return "cache:" + c.ns + ":" + key }

func (c *cache[V]) lockName(key string) string { return c.ns + ":" + key }

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
