// Package worker provides a bounded worker pool shared by concurrent
// requests. Each batch collects its own results, so callers never see
// another caller's output.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker: pool closed")

// Job represents a unit of work to be executed by a worker.
type Job[T any] struct {
	// ID is an optional identifier for the job (useful for logging/debugging)
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// Result represents the outcome of a job execution.
type Result[T any] struct {
	JobID string
	Value T
	Err   error
}

// Pool runs submitted tasks on a fixed number of goroutines.
type Pool struct {
	workers int
	tasks   chan func()

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines reading from a queue of queueSize.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		workers: workers,
		tasks:   make(chan func(), queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit queues fn. It blocks while the queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.tasks <- fn:
		return nil
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Close stops accepting work, lets queued tasks finish and waits for the
// workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Run executes jobs on p and returns their results in submission order.
// Jobs that could not be queued carry the submission error.
func Run[T any](ctx context.Context, p *Pool, jobs []Job[T]) []Result[T] {
	results := make([]Result[T], len(jobs))
	var wg sync.WaitGroup

	for i, job := range jobs {
		i, job := i, job
		results[i].JobID = job.ID

		wg.Add(1)
		err := p.Submit(ctx, func() {
			defer wg.Done()
			results[i].Value, results[i].Err = job.Execute(ctx)
		})
		if err != nil {
			results[i].Err = err
			wg.Done()
		}
	}

	wg.Wait()
	return results
}
