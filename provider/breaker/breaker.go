// Package breaker wraps a Provider with a circuit breaker.
//
// When the store keeps failing the circuit opens and calls fail fast with an
// error marked provider.ErrUnavailable, which the cache read path treats as a
// miss. Callers stop queueing behind a dead connection.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/stampede/log"
	pr "github.com/unkn0wn-root/stampede/provider"
)

type Config struct {
	Name        string
	MaxRequests uint32        // probes allowed while half-open
	Interval    time.Duration // closed-state counter reset period
	Timeout     time.Duration // open -> half-open
	MinRequests uint32        // trip only after this many requests in Interval
	FailureRate float64       // trip when failures/requests >= this
	Logger      log.Logger
}

type Provider struct {
	next pr.Provider
	cb   *gobreaker.CircuitBreaker
}

var _ pr.Provider = (*Provider)(nil)

func New(next pr.Provider, cfg Config) *Provider {
	name := coalesce(cfg.Name, "cache-provider")
	minReq := cfg.MinRequests
	if minReq == 0 {
		minReq = 5
	}
	rate := cfg.FailureRate
	if rate <= 0 {
		rate = 0.5
	}
	lg := log.OrNop(cfg.Logger)

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: max(cfg.MaxRequests, 1),
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minReq && float64(c.TotalFailures)/float64(c.Requests) >= rate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("circuit breaker state changed", log.Fields{
				"breaker": name, "from": from.String(), "to": to.String(),
			})
		},
	}
	return &Provider{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (p *Provider) State() gobreaker.State { return p.cb.State() }

func (p *Provider) IgnoresTTL() bool { return pr.IgnoresTTL(p.next) }

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	type hit struct {
		b  []byte
		ok bool
	}
	v, err := p.cb.Execute(func() (any, error) {
		b, ok, err := p.next.Get(ctx, key)
		return hit{b, ok}, err
	})
	if err != nil {
		return nil, false, mark(err)
	}
	h := v.(hit)
	return h.b, h.ok, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	v, err := p.cb.Execute(func() (any, error) {
		return p.next.Set(ctx, key, value, cost, ttl)
	})
	if err != nil {
		return false, mark(err)
	}
	return v.(bool), nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.cb.Execute(func() (any, error) {
		return nil, p.next.Del(ctx, key)
	})
	return mark(err)
}

// Close bypasses the breaker.
func (p *Provider) Close(ctx context.Context) error { return p.next.Close(ctx) }

func mark(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pr.Unavailable(err)
	}
	return err
}

func coalesce(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
