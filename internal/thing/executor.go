package thing

import (
	"context"
	"sync"
)

// Default executor sizing.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// job is a unit of work accepted by the Executor.
type job interface {
	run(ctx context.Context)
	abort(cause error)
}

// Executor runs actions on a fixed pool of worker goroutines fed by a
// bounded queue. One executor may be shared by several things.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Executor struct {
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	workers int
}

// NewExecutor starts workers goroutines reading from a queue of queueSize
// pending jobs. Non-positive arguments select the defaults.
func NewExecutor(workers, queueSize int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Executor{
		queue:   make(chan job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		workers: workers,
	}

	e.wg.Add(workers)
	for range workers {
		go e.worker()
	}
	return e
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case j := <-e.queue:
			j.run(e.ctx)
		}
	}
}

// submit enqueues j without blocking.
//
// Returns ErrExecutorBusy if the queue is full and ErrExecutorStopped after
// Stop.
func (e *Executor) submit(j job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.stopped {
		return ErrExecutorStopped
	}
	select {
	case e.queue <- j:
		return nil
	default:
		return ErrExecutorBusy
	}
}

// Stop cancels running jobs' context, waits for workers to exit and fails
// every job still queued with ErrExecutorStopped. Safe to call repeatedly.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()

	for {
		select {
		case j := <-e.queue:
			j.abort(ErrExecutorStopped)
		default:
			return
		}
	}
}

// Queued returns the number of jobs waiting for a worker.
func (e *Executor) Queued() int { return len(e.queue) }

// Workers returns the pool size.
func (e *Executor) Workers() int { return e.workers }
