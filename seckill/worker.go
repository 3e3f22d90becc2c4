package seckill

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/stampede/log"
	"github.com/unkn0wn-root/stampede/queue"
)

// Queue is the consumer side of the order stream. *queue.Stream implements it.
type Queue interface {
	EnsureGroup(ctx context.Context) error
	ReadNew(ctx context.Context, block time.Duration) (*queue.Message, error)
	ReadPending(ctx context.Context) (*queue.Message, error)
	Ack(ctx context.Context, id string) error
	DeadLetter(ctx context.Context, msg queue.Message, reason string) error
	ClaimStale(ctx context.Context, minIdle time.Duration, count int64) (int, error)
}

type WorkerConfig struct {
	Block      time.Duration // wait per ReadNew; 0 => 2s
	Backoff    time.Duration // first retry delay; 0 => 20ms
	MaxBackoff time.Duration // retry delay cap; 0 => 2s
	// ClaimIdle > 0 takes over entries idle that long on other consumers,
	// checked every ClaimIdle.
	ClaimIdle time.Duration
}

// Worker drains the order stream into the relational store, one entry at a
// time. Run one per process.
type Worker struct {
	q   Queue
	fin *Finalizer
	cfg WorkerConfig
	log log.Logger
}

func NewWorker(q Queue, fin *Finalizer, cfg WorkerConfig, logger log.Logger) *Worker {
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 20 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = max(2*time.Second, cfg.Backoff)
	}
	return &Worker{q: q, fin: fin, cfg: cfg, log: log.OrNop(logger)}
}

// Run consumes until ctx is cancelled. Entries that fail stay pending and
// are retried in order; only permanent failures go to the dead-letter stream.
func (w *Worker) Run(ctx context.Context) error {
	bo := w.backoff()
	for {
		err := w.q.EnsureGroup(ctx)
		if err == nil {
			break
		}
		w.log.Warn("order stream not ready", log.Fields{"err": err})
		if !bo.wait(ctx) {
			return nil
		}
	}
	w.log.Info("order worker started", nil)

	// anything delivered before a crash or restart goes first
	w.drainPending(ctx)

	lastClaim := time.Now()
	for ctx.Err() == nil {
		if w.cfg.ClaimIdle > 0 && time.Since(lastClaim) >= w.cfg.ClaimIdle {
			lastClaim = time.Now()
			if n, err := w.q.ClaimStale(ctx, w.cfg.ClaimIdle, 100); err != nil {
				w.log.Warn("claim stale entries failed", log.Fields{"err": err})
			} else if n > 0 {
				w.drainPending(ctx)
			}
		}

		msg, err := w.q.ReadNew(ctx, w.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Warn("read order stream failed", log.Fields{"err": err})
			bo.wait(ctx)
			continue
		}
		bo.reset()
		if msg == nil {
			continue
		}
		if err := w.handle(ctx, *msg); err != nil {
			w.log.Warn("order not finalized; retrying from pending", log.Fields{"id": msg.ID, "err": err})
			w.drainPending(ctx)
		}
	}
	w.log.Info("order worker stopped", nil)
	return nil
}

// drainPending retries the head of this consumer's pending list until the
// list is empty or ctx ends. A failing head is never skipped.
func (w *Worker) drainPending(ctx context.Context) {
	bo := w.backoff()
	for ctx.Err() == nil {
		msg, err := w.q.ReadPending(ctx)
		if err != nil {
			w.log.Warn("read pending orders failed", log.Fields{"err": err})
			bo.wait(ctx)
			continue
		}
		if msg == nil {
			return
		}
		if err := w.handle(ctx, *msg); err != nil {
			w.log.Warn("pending order retry failed", log.Fields{"id": msg.ID, "err": err, "next": bo.cur.String()})
			bo.wait(ctx)
			continue
		}
		bo.reset()
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) error {
	o, err := DecodeOrder(msg)
	if err != nil {
		return w.q.DeadLetter(ctx, msg, err.Error())
	}
	err = w.fin.Finalize(ctx, o)
	switch {
	case err == nil:
		return w.q.Ack(ctx, msg.ID)
	case errors.Is(err, ErrPersistenceInconsistency):
		return w.q.DeadLetter(ctx, msg, err.Error())
	default:
		return err
	}
}

type backoff struct {
	min, max, cur time.Duration
}

func (w *Worker) backoff() *backoff {
	return &backoff{min: w.cfg.Backoff, max: w.cfg.MaxBackoff, cur: w.cfg.Backoff}
}

func (b *backoff) reset() { b.cur = b.min }

// wait sleeps the current delay and doubles it. false means ctx ended.
func (b *backoff) wait(ctx context.Context) bool {
	t := time.NewTimer(b.cur)
	defer t.Stop()
	b.cur = min(2*b.cur, b.max)
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
