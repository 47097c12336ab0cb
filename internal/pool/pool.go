// Package pool provides a fixed-size worker pool that runs fire-and-forget
// tasks off the transport's read goroutines.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/luciancaetano/parley/internal/metrics"
)

var (
	// ErrPoolClosed is returned by Enqueue once Shutdown has begun.
	ErrPoolClosed = errors.New("enqueue on stopped worker pool")
	// ErrQueueFull is returned by Enqueue when every queue slot is taken.
	ErrQueueFull = errors.New("worker pool queue is full")
)

const (
	// DefaultSize matches the thread count of the original server.
	DefaultSize      = 8
	DefaultQueueSize = 1024
)

// Task is a unit of work executed by exactly one worker.
type Task func()

// Pool runs tasks on a fixed number of worker goroutines consuming a shared
// FIFO queue. Each worker runs its tasks in the order it dequeues them; there
// is no ordering across workers.
type Pool struct {
	size   int
	tasks  chan Task
	logger zerolog.Logger
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New creates a pool and starts size workers. Non-positive arguments fall
// back to DefaultSize and DefaultQueueSize.
func New(size, queueSize int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pool{
		size:   size,
		tasks:  make(chan Task, queueSize),
		logger: logger.With().Str("component", "pool").Logger(),
	}

	for i := 0; i < size; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(workerID)
		}()
	}

	p.logger.Info().Int("workers", size).Int("queue_size", queueSize).Msg("worker pool started")
	return p
}

// Enqueue schedules task and returns without waiting for it to run. It
// never blocks: a full queue gives ErrQueueFull, and after Shutdown it
// returns ErrPoolClosed. In both cases the task is discarded.
func (p *Pool) Enqueue(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}

	// Hold the read lock across the send so Shutdown cannot close the
	// channel underneath us.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		metrics.PoolTasks.WithLabelValues("rejected").Inc()
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
	default:
		metrics.PoolTasks.WithLabelValues("rejected").Inc()
		return ErrQueueFull
	}
	metrics.PoolTasks.WithLabelValues("queued").Inc()
	metrics.PoolQueueDepth.Set(float64(len(p.tasks)))
	return nil
}

// Submit runs fn on the pool and returns a channel that receives its result.
func Submit[T any](p *Pool, fn func() T) (<-chan T, error) {
	result := make(chan T, 1)
	err := p.Enqueue(func() {
		result <- fn()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Shutdown stops accepting tasks, lets every queued task run, and waits
// for all workers to exit. It returns ctx.Err() if the context expires
// first; workers keep draining in the background in that case.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.logger.Info().Int("pending", len(p.tasks)).Msg("draining worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("all workers stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("timeout waiting for workers to stop")
		return ctx.Err()
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Pool) work(workerID string) {
	for task := range p.tasks {
		metrics.PoolQueueDepth.Set(float64(len(p.tasks)))
		p.run(workerID, task)
	}
	p.logger.Debug().Str("worker", workerID).Msg("worker stopped")
}

// run executes one task; a panic is logged and the worker keeps going.
func (p *Pool) run(workerID string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PoolTasks.WithLabelValues("panicked").Inc()
			p.logger.Error().
				Str("worker", workerID).
				Interface("panic", r).
				Msg("recovered from panic in task")
		}
	}()

	task()
	metrics.PoolTasks.WithLabelValues("done").Inc()
}
