// Package sloghooks logs cache events with log/slog. Keys are redacted
// (SHA-256 prefix by default) and noisy events can be sampled.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/stampede"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery  uint64
	ContendedEvery uint64
	// Lookup outcomes are only logged when set; they fire on every read.
	LogLookups bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr  atomic.Uint64
	contendedCtr atomic.Uint64
}

var _ stampede.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Lookup(ns, outcome string) {
	if h.l == nil || !h.opts.LogLookups {
		return
	}
	h.l.Debug("stampede.lookup", "ns", ns, "outcome", outcome)
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("stampede.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("stampede.provider_set_rejected", "key", h.redact(storageKey))
}

func (h *Hooks) ProviderError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("stampede.provider_error", "op", op, "err", err)
}

func (h *Hooks) LockContended(storageKey string) {
	if h.l == nil || !sample(h.opts.ContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("stampede.lock_contended", "key", h.redact(storageKey))
}

func (h *Hooks) RebuildScheduled(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("stampede.rebuild_scheduled", "key", h.redact(storageKey))
}

func (h *Hooks) RebuildDropped(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("stampede.rebuild_dropped", "key", h.redact(storageKey))
}

func (h *Hooks) RebuildFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("stampede.rebuild_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) InvalidateFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("stampede.invalidate_failed",
		"key", h.redact(key),
		"err", err)
}
