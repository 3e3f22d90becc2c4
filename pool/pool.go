// Package pool runs fire-and-forget tasks on a fixed set of workers.
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a bounded worker pool. Submit never blocks: when the queue is full
// the task is refused and the caller decides what to do.
type Pool struct {
	q      chan func()
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed bool

	dropped atomic.Uint64
}

func New(workers, qlen int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	p := &Pool{q: make(chan func(), qlen)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for f := range p.q {
				f()
			}
		}()
	}
	return p
}

// Submit queues f. It reports false when the pool is full or closed.
func (p *Pool) Submit(f func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return false
	}
	select {
	case p.q <- f:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped counts refused submissions.
func (p *Pool) Dropped() uint64 { return p.dropped.Load() }

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.q)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
