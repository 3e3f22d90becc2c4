package idgen

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/stampede/provider"
)

// Counter hands out atomically increasing values per key, starting at 1.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisCounter shares counters across processes. Every increment also
// refreshes the key's TTL so finished days age out on their own.
type RedisCounter struct {
	rdb       redis.UniversalClient
	retention time.Duration // 0 disables expiry
}

var _ Counter = (*RedisCounter)(nil)

func NewRedisCounter(client redis.UniversalClient, retention time.Duration) *RedisCounter {
	return &RedisCounter{rdb: client, retention: retention}
}

// Incr pipelines INCR + EXPIRE in one round-trip when retention is set.
func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	if c.retention <= 0 {
		v, err := c.rdb.Incr(ctx, key).Result()
		return v, provider.Unavailable(err)
	}
	var incr *redis.IntCmd
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, c.retention)
		return nil
	})
	if err != nil {
		return 0, provider.Unavailable(err)
	}
	return incr.Val(), nil
}

type localEntry struct {
	n         int64
	updatedAt time.Time
}

// LocalCounter keeps counters in-process, for single-replica deployments and
// tests. An optional cleanup loop prunes keys idle longer than retention.
type LocalCounter struct {
	mu     sync.Mutex
	m      map[string]localEntry
	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ Counter = (*LocalCounter)(nil)

func NewLocalCounter(cleanupInterval, retention time.Duration) *LocalCounter {
	c := &LocalCounter{m: make(map[string]localEntry)}
	if cleanupInterval > 0 && retention > 0 {
		c.ticker = time.NewTicker(cleanupInterval)
		c.stopCh = make(chan struct{})
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-c.ticker.C:
					c.Prune(retention)
				case <-c.stopCh:
					return
				}
			}
		}()
	}
	return c
}

func (c *LocalCounter) Incr(_ context.Context, key string) (int64, error) {
	now := time.Now()
	c.mu.Lock()
	e := c.m[key]
	e.n++
	e.updatedAt = now
	c.m[key] = e
	c.mu.Unlock()
	return e.n, nil
}

func (c *LocalCounter) Prune(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	c.mu.Lock()
	for k, e := range c.m {
		if e.updatedAt.Before(cutoff) {
			delete(c.m, k)
		}
	}
	c.mu.Unlock()
}

func (c *LocalCounter) Close() {
	if c.stopCh != nil {
		close(c.stopCh)
		c.ticker.Stop()
		c.wg.Wait()
		c.stopCh = nil
	}
}
