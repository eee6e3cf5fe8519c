package aio

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
)

// Worker pool bounds.
const (
	MinWorkers     = 1
	DefaultWorkers = 4
	MaxWorkers     = 256
)

// Pool is a fixed set of worker goroutines draining a FIFO task queue.
// It is the scheduling context for sockets, files, timers and acceptors:
// their completion callbacks run on pool workers.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  *queue.Queue
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool running maxWorkers goroutines. minWorkers is the
// validation floor; both bounds must sit in [MinWorkers, MaxWorkers].
func NewPool(minWorkers, maxWorkers int) (*Pool, error) {
	if minWorkers < MinWorkers || maxWorkers > MaxWorkers || minWorkers > maxWorkers {
		return nil, fmt.Errorf("invalid worker bounds %d..%d", minWorkers, maxWorkers)
	}
	p := &Pool{tasks: queue.New()}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit enqueues fn for execution on a pool worker. Tasks run in FIFO
// order relative to other submissions.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.tasks.Add(fn)
	p.cond.Signal()
	p.mu.Unlock()
	return nil
}

// Shutdown stops accepting tasks and blocks until every queued and running
// task has finished.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		fn := p.tasks.Remove().(func())
		p.mu.Unlock()
		fn()
	}
}
