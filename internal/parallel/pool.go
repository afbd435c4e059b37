// Package parallel provides the worker pool that executes kernel passes of
// the software GPU adapter.
//
// A kernel pass is embarrassingly parallel: every output texel is computed
// from read-only inputs. The pool splits the texel range into chunks and
// hands them to workers, emulating the lanes of a GPU dispatch.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// minChunk is the smallest number of texels handed to a single worker.
// Below this size scheduling overhead dominates.
const minChunk = 256

// Pool is a pool of goroutines for data-parallel kernel passes.
//
// Each worker owns a queue and steals from its siblings when its own queue
// is empty, which keeps passes with uneven per-texel cost balanced.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	workers    int
	workQueues []chan func()
	done       chan struct{}
	wg         sync.WaitGroup
	running    atomic.Bool
}

// NewPool creates a pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := max(workers*4, 8)

	p := &Pool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	own := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drain(own)
			return
		case work := <-own:
			work()
		default:
			if stolen := p.steal(id); stolen != nil {
				stolen()
				continue
			}
			select {
			case <-p.done:
				p.drain(own)
				return
			case work := <-own:
				work()
			}
		}
	}
}

func (p *Pool) drain(queue chan func()) {
	for {
		select {
		case work := <-queue:
			work()
		default:
			return
		}
	}
}

func (p *Pool) steal(id int) func() {
	for i := range p.workers {
		if i == id {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// For calls fn over disjoint half-open ranges [lo, hi) covering [0, n) and
// waits until every range has been processed.
//
// Small ranges, a single worker and a closed pool all run fn inline on the
// calling goroutine, so For always completes the full range.
func (p *Pool) For(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	if n <= minChunk || p.workers == 1 || !p.running.Load() {
		fn(0, n)
		return
	}

	chunks := min(p.workers*4, (n+minChunk-1)/minChunk)
	size := (n + chunks - 1) / chunks

	var wg sync.WaitGroup
	for i := 0; i < chunks; i++ {
		lo := i * size
		if lo >= n {
			break
		}
		hi := min(lo+size, n)

		wg.Add(1)
		work := func() {
			defer wg.Done()
			fn(lo, hi)
		}

		select {
		case p.workQueues[i%p.workers] <- work:
		case <-p.done:
			work()
		}
	}
	wg.Wait()
}

// Close stops the workers after the queued work has drained.
// Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool still accepts work.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}
