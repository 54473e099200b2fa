// Package workers provides a bounded pool for running independent
// evaluation tasks, such as per-strategy walk-forward validation, in
// parallel.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is a unit of work.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Pool runs queued tasks on a fixed number of goroutines. Tasks must be
// independent; the pool gives no ordering guarantees.
type Pool struct {
	logger  *zap.Logger
	size    int
	tasks   chan Task
	wg      sync.WaitGroup
	started atomic.Bool

	mu     sync.Mutex
	errors []error

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool with the given number of workers; zero or
// negative means one worker per CPU.
func NewPool(logger *zap.Logger, size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		logger: logger,
		size:   size,
		tasks:  make(chan Task, size*4),
	}
}

// Start launches the workers. Tasks submitted before Start queue up.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Debug("Worker pool started", zap.Int("workers", p.size))
}

// Submit queues a task. Blocks when the queue is full.
func (p *Pool) Submit(task Task) {
	p.tasks <- task
}

// Close stops accepting tasks and waits for the queue to drain. Returns
// every task error in completion order.
func (p *Pool) Close() []error {
	close(p.tasks)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors
}

// Completed returns the number of tasks that finished without error.
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Failed returns the number of tasks that returned an error or panicked.
func (p *Pool) Failed() int64 { return p.failed.Load() }

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		select {
		case <-ctx.Done():
			p.recordError(ctx.Err())
			continue
		default:
		}

		if err := p.run(ctx, task); err != nil {
			p.failed.Add(1)
			p.recordError(err)
			p.logger.Warn("Task failed", zap.Int("worker", id), zap.Error(err))
		} else {
			p.completed.Add(1)
		}
	}
}

// run isolates panics so one bad task cannot take the pool down.
func (p *Pool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return task.Execute(ctx)
}

func (p *Pool) recordError(err error) {
	p.mu.Lock()
	p.errors = append(p.errors, err)
	p.mu.Unlock()
}

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "task panicked"
}
