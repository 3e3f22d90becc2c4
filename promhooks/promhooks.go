// Package promhooks exports cache events as Prometheus counters.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/stampede"
)

type Hooks struct {
	Lookups       *prometheus.CounterVec // ns, outcome=hit|null|miss|stale
	SelfHeals     *prometheus.CounterVec // reason
	SetRejected   prometheus.Counter
	ProviderErrs  *prometheus.CounterVec // op=get|set|del
	Contended     prometheus.Counter
	Rebuilds      *prometheus.CounterVec // result=scheduled|dropped|failed
	InvalidateErr prometheus.Counter
}

var _ stampede.Hooks = (*Hooks)(nil)

// New builds the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) (*Hooks, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	h := &Hooks{
		Lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stampede_lookups_total",
				Help: "Cache reads by namespace and outcome",
			},
			[]string{"ns", "outcome"},
		),
		SelfHeals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stampede_self_heal_total",
				Help: "Entries deleted on read because they could not be decoded",
			},
			[]string{"reason"},
		),
		SetRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampede_provider_set_rejected_total",
			Help: "Writes refused by the provider under pressure",
		}),
		ProviderErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stampede_provider_errors_total",
				Help: "Provider call failures by operation",
			},
			[]string{"op"},
		),
		Contended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampede_lock_contended_total",
			Help: "Rebuild lease attempts that found the lease held",
		}),
		Rebuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stampede_rebuilds_total",
				Help: "Logical-expiry rebuilds by result",
			},
			[]string{"result"},
		),
		InvalidateErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stampede_invalidate_failed_total",
			Help: "Cache deletes after a store write that failed",
		}),
	}
	for _, c := range []prometheus.Collector{
		h.Lookups, h.SelfHeals, h.SetRejected, h.ProviderErrs,
		h.Contended, h.Rebuilds, h.InvalidateErr,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) Lookup(ns, outcome string)        { h.Lookups.WithLabelValues(ns, outcome).Inc() }
func (h *Hooks) SelfHeal(_, reason string)        { h.SelfHeals.WithLabelValues(reason).Inc() }
func (h *Hooks) ProviderSetRejected(string)       { h.SetRejected.Inc() }
func (h *Hooks) ProviderError(op string, _ error) { h.ProviderErrs.WithLabelValues(op).Inc() }
func (h *Hooks) LockContended(string)             { h.Contended.Inc() }
func (h *Hooks) RebuildScheduled(string)          { h.Rebuilds.WithLabelValues("scheduled").Inc() }
func (h *Hooks) RebuildDropped(string)            { h.Rebuilds.WithLabelValues("dropped").Inc() }
func (h *Hooks) RebuildFailed(string, error)      { h.Rebuilds.WithLabelValues("failed").Inc() }
func (h *Hooks) InvalidateFailed(string, error)   { h.InvalidateErr.Inc() }
