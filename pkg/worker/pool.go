// Package worker implements the bounded exec worker pool (C7) that
// decouples the main loop from slow remote-launch plugin invocations,
// grounded on original_source/worker.h and worker.c.
//
// The original's _thread_main loop is a cond-var-gated ~1ms polling loop,
// a workaround for C's lack of a native blocking multi-producer queue. Go
// channels make that workaround unnecessary: each worker goroutine simply
// blocks on a channel receive. The external behavior — bounded
// concurrency, FIFO-ish dispatch, clean shutdown — is preserved.
package worker

import (
	"context"
	"sync"

	"github.com/kraused/treecast/pkg/plugin"
)

// Item is one queued exec request, the Go analogue of struct
// exec_work_item. Done receives the result exactly once.
type Item struct {
	Host string
	Argv []string
	Done chan<- Result
}

// Result is what a completed Item reports back.
type Result struct {
	Status int
	Err    error
}

// Pool is a fixed-size pool of worker goroutines draining a shared work
// queue, the Go analogue of struct exec_worker_pool.
type Pool struct {
	exec     plugin.ExecPlugin
	nthreads int
	work     chan Item

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Pool with nthreads workers, a queue capacity of
// queueSize, dispatching each Item to exec. Workers are not started until
// Start is called, mirroring the ctor/start split in worker.c.
func New(exec plugin.ExecPlugin, nthreads, queueSize int) *Pool {
	if nthreads <= 0 {
		nthreads = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{exec: exec, nthreads: nthreads, work: make(chan Item, queueSize)}
}

// Start launches the worker goroutines. ctx governs their lifetime; Stop
// additionally cancels a private derived context so in-flight Exec calls
// that respect ctx are interrupted promptly.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(p.nthreads)
	for i := 0; i < p.nthreads; i++ {
		go p.run(ctx)
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case item, ok := <-p.work:
			if !ok {
				return
			}
			status, err := p.exec.Exec(ctx, item.Host, item.Argv)
			if item.Done != nil {
				item.Done <- Result{Status: status, Err: err}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue adds item to the queue, blocking if it is full — a deliberate
// difference from the original's immediate-dispatch _thread_main loop,
// since a bounded channel already gives us backpressure without the
// original's separate polling mechanism.
func (p *Pool) Enqueue(item Item) {
	p.work <- item
}

// Stop cancels in-flight work and waits for every worker goroutine to
// return, the analogue of exec_worker_pool_stop joined with _dtor.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	close(p.work)
	p.wg.Wait()
}
