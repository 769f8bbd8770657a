package engine

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool runs index mutations on a fixed set of goroutines so a burst
// of requests cannot start unbounded concurrent batches.
type WorkerPool struct {
	size int
	jobs chan job
	wg   sync.WaitGroup

	// mu keeps Close from closing jobs under a pending send.
	mu     sync.RWMutex
	closed bool
}

type job struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// DefaultWorkers is the pool size used when none is configured.
func DefaultWorkers() int {
	return runtime.NumCPU() + 2
}

// NewWorkerPool starts size workers. The queue holds two jobs per worker.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkers()
	}
	wp := &WorkerPool{size: size, jobs: make(chan job, size*2)}
	wp.wg.Add(size)
	for range size {
		go wp.work()
	}
	return wp
}

func (wp *WorkerPool) work() {
	defer wp.wg.Done()
	for j := range wp.jobs {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.fn()
	}
}

// Workers returns the pool size.
func (wp *WorkerPool) Workers() int {
	return wp.size
}

// Queued returns the number of jobs waiting for a worker.
func (wp *WorkerPool) Queued() int {
	return len(wp.jobs)
}

// Do runs fn on a worker and waits for its result. A job whose ctx ends
// while it is queued is skipped and Do returns the context error; once fn
// has started it runs to completion. Do fails with ErrClosed after Close.
func (wp *WorkerPool) Do(ctx context.Context, fn func() error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	wp.mu.RLock()
	if wp.closed {
		wp.mu.RUnlock()
		return ErrClosed
	}
	select {
	case wp.jobs <- j:
	case <-ctx.Done():
		wp.mu.RUnlock()
		return ctx.Err()
	}
	wp.mu.RUnlock()

	return <-j.done
}

// Close stops accepting jobs, runs the queued ones and waits for the
// workers to exit.
func (wp *WorkerPool) Close() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
}
