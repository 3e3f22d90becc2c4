package stampede

// Lookup outcomes.
const (
	OutcomeHit   = "hit"
	OutcomeNull  = "null"  // null marker served, store not consulted
	OutcomeMiss  = "miss"  // went to the loader
	OutcomeStale = "stale" // logically expired value served
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	Lookup(namespace, outcome string)

	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// A provider call failed. op ∈ {"get", "set", "del"}
	ProviderError(op string, err error)

	// Another caller held the rebuild lease.
	LockContended(storageKey string)

	RebuildScheduled(storageKey string)
	// The rebuild pool was full; the stale value stays until the next read.
	RebuildDropped(storageKey string)
	RebuildFailed(storageKey string, err error)

	// Update wrote the store but the cached key could not be deleted.
	InvalidateFailed(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Lookup(string, string)          {}
func (NopHooks) SelfHeal(string, string)        {}
func (NopHooks) ProviderSetRejected(string)     {}
func (NopHooks) ProviderError(string, error)    {}
func (NopHooks) LockContended(string)           {}
func (NopHooks) RebuildScheduled(string)        {}
func (NopHooks) RebuildDropped(string)          {}
func (NopHooks) RebuildFailed(string, error)    {}
func (NopHooks) InvalidateFailed(string, error) {}

// MultiHooks fans every event out to hs in order.
func MultiHooks(hs ...Hooks) Hooks {
	if len(hs) == 1 {
		return hs[0]
	}
	return multiHooks(hs)
}

type multiHooks []Hooks

func (m multiHooks) Lookup(ns, outcome string) {
	for _, h := range m {
		h.Lookup(ns, outcome)
	}
}

func (m multiHooks) SelfHeal(k, reason string) {
	for _, h := range m {
		h.SelfHeal(k, reason)
	}
}

func (m multiHooks) ProviderSetRejected(k string) {
	for _, h := range m {
		h.ProviderSetRejected(k)
	}
}

func (m multiHooks) ProviderError(op string, err error) {
	for _, h := range m {
		h.ProviderError(op, err)
	}
}

func (m multiHooks) LockContended(k string) {
	for _, h := range m {
		h.LockContended(k)
	}
}

func (m multiHooks) RebuildScheduled(k string) {
	for _, h := range m {
		h.RebuildScheduled(k)
	}
}

func (m multiHooks) RebuildDropped(k string) {
	for _, h := range m {
		h.RebuildDropped(k)
	}
}

func (m multiHooks) RebuildFailed(k string, err error) {
	for _, h := range m {
		h.RebuildFailed(k, err)
	}
}

func (m multiHooks) InvalidateFailed(key string, err error) {
	for _, h := range m {
		h.InvalidateFailed(key, err)
	}
}
