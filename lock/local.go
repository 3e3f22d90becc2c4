package lock

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type hold struct {
	token     string
	expiresAt time.Time
}

// Local is an in-process Locker with the same lease semantics as RedisLocker.
// It never reports the store as unavailable.
type Local struct {
	mu    sync.Mutex
	held  map[string]hold
	seq   uint64
	nowFn func() time.Time
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{held: make(map[string]hold), nowFn: time.Now}
}

func (l *Local) Acquire(_ context.Context, name string, ttl time.Duration) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if h, ok := l.held[name]; ok && now.Before(h.expiresAt) {
		return nil, ErrBusy
	}
	l.seq++
	token := "local-" + strconv.FormatUint(l.seq, 10)
	l.held[name] = hold{token: token, expiresAt: now.Add(ttl)}

	lease := &Lease{Name: name, Token: token, TTL: ttl}
	lease.release = func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		h, ok := l.held[name]
		if !ok || h.token != token || !l.nowFn().Before(h.expiresAt) {
			return ErrNotOwner
		}
		delete(l.held, name)
		return nil
	}
	return lease, nil
}
