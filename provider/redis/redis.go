// Package redis stores cache frames in Redis, shared by every replica.
package redis

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/stampede/provider"
)

var (
	ErrNilClient     = errors.New("redis provider: nil client")
	ErrInvalidJitter = errors.New("redis provider: jitter must be in [0, 1)")
)

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	jitter      float64
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // true only if this provider exclusively owns the client

	// Jitter stretches every positive TTL by a random fraction in
	// [0, Jitter), so entries written together (a preheat, a cold start) do
	// not all expire in the same second.
	Jitter float64
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return nil, ErrInvalidJitter
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient, jitter: cfg.Jitter}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pr.Unavailable(err)
	}
	return b, true, nil
}

// Set never reports a rejected write: Redis either stores the frame or errors.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if err := p.rdb.Set(ctx, key, value, p.expiry(ttl)).Err(); err != nil {
		return false, pr.Unavailable(err)
	}
	return true, nil
}

func (p *Redis) expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	if p.jitter > 0 {
		ttl += time.Duration(rand.Float64() * p.jitter * float64(ttl))
	}
	return ttl
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return pr.Unavailable(p.rdb.Del(ctx, key).Err())
}

// Close releases the client only when this provider owns it.
// Repeated calls are no-ops.
func (p *Redis) Close(context.Context) error {
	if !p.closeClient {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
