// Package asynchook moves Hooks calls off the hot path.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := stampede.New[store.Shop](stampede.Options[store.Shop]{
//	    Namespace: "shop",
//	    Hooks:     hooks,
//	    ...
//	})
//
// Events are dropped, never queued behind a slow sink, when the queue is full.
package asynchook

import (
	"github.com/unkn0wn-root/stampede"
	"github.com/unkn0wn-root/stampede/pool"
)

type Hooks struct {
	inner stampede.Hooks
	p     *pool.Pool
}

var _ stampede.Hooks = (*Hooks)(nil)

func New(inner stampede.Hooks, workers, qlen int) *Hooks {
	return &Hooks{inner: inner, p: pool.New(workers, qlen)}
}

// Close flushes queued events and stops the workers.
func (h *Hooks) Close() { h.p.Close() }

// Dropped counts events lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.p.Dropped() }

func (h *Hooks) try(f func()) { h.p.Submit(f) }

func (h *Hooks) Lookup(ns, outcome string)    { h.try(func() { h.inner.Lookup(ns, outcome) }) }
func (h *Hooks) SelfHeal(k, r string)         { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string) { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) ProviderError(op string, err error) {
	h.try(func() { h.inner.ProviderError(op, err) })
}
func (h *Hooks) LockContended(k string)    { h.try(func() { h.inner.LockContended(k) }) }
func (h *Hooks) RebuildScheduled(k string) { h.try(func() { h.inner.RebuildScheduled(k) }) }
func (h *Hooks) RebuildDropped(k string)   { h.try(func() { h.inner.RebuildDropped(k) }) }
func (h *Hooks) RebuildFailed(k string, err error) {
	h.try(func() { h.inner.RebuildFailed(k, err) })
}
func (h *Hooks) InvalidateFailed(k string, err error) {
	h.try(func() { h.inner.InvalidateFailed(k, err) })
}
