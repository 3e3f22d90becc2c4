// Package idgen generates globally unique, roughly time-ordered 64-bit IDs.
//
// Layout: (seconds since 2022-01-01T00:00:00Z) << 32 | daily sequence.
// The sequence comes from a per-day counter "icr:<name>:<yyyy:mm:dd>" so
// two IDs for the same name never share a (second, sequence) pair even
// across processes.
package idgen

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	countBits = 32
	maxSeq    = 1<<countBits - 1
	maxSecs   = 1<<31 - 1
)

// Epoch is the zero point of the timestamp half.
var Epoch = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

var (
	ErrSequenceExhausted = errors.New("idgen: daily sequence exhausted")
	ErrClockOutOfRange   = errors.New("idgen: clock outside representable range")
)

type Generator struct {
	counter Counter
	now     func() time.Time
}

type Option func(*Generator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func New(c Counter, opts ...Option) *Generator {
	g := &Generator{counter: c, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Next returns a new ID for counterName (e.g. "order").
func (g *Generator) Next(ctx context.Context, counterName string) (int64, error) {
	now := g.now().UTC()
	elapsed := now.Unix() - Epoch.Unix()
	if elapsed < 0 || elapsed > maxSecs {
		return 0, errors.Wrapf(ErrClockOutOfRange, "elapsed=%ds", elapsed)
	}

	key := CounterKey(counterName, now)
	seq, err := g.counter.Incr(ctx, key)
	if err != nil {
		return 0, errors.Wrapf(err, "idgen: increment %s", key)
	}
	if seq < 1 || seq > maxSeq {
		return 0, errors.Wrapf(ErrSequenceExhausted, "%s at %d", key, seq)
	}
	return elapsed<<countBits | seq, nil
}

// CounterKey is the store key of the day's counter for name.
func CounterKey(name string, t time.Time) string {
	return "icr:" + name + ":" + t.UTC().Format("2006:01:02")
}

// Decompose splits an ID into its timestamp and sequence.
func Decompose(id int64) (time.Time, int64) {
	secs := id >> countBits
	return Epoch.Add(time.Duration(secs) * time.Second), id & maxSeq
}
