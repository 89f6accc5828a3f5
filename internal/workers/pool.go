package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/aatumaykin/jobrelay/internal/logger"
)

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("worker pool is stopped")

// WorkerPool manages a pool of goroutine workers for concurrent task execution.
type WorkerPool struct {
	taskQueue chan Task
	workers   int
	wg        *taskWaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *logger.Logger
	metrics   *PoolMetrics

	stateMu sync.RWMutex
	started bool
	stopped bool
}

// NewPool creates a new worker pool. Non-positive sizes use the defaults.
func NewPool(workers int, bufferSize int, log *logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultQueueSize
	}
	if log == nil {
		log = logger.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		taskQueue: make(chan Task, bufferSize),
		workers:   workers,
		wg:        newTaskWaitGroup(),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.Component("workers"),
		metrics:   &PoolMetrics{},
	}
}

// Start initializes and starts all worker goroutines. Calling it again is a no-op.
func (p *WorkerPool) Start() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	p.logger.Debug("starting worker pool",
		logger.Field{Key: "workers", Value: p.workers},
		logger.Field{Key: "buffer_size", Value: cap(p.taskQueue)})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// SubmitWithContext queues a task, blocking while the queue is full.
func (p *WorkerPool) SubmitWithContext(ctx context.Context, task Task) error {
	// The read lock keeps Stop from closing the queue under a pending send.
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	if !p.started {
		return errors.New("worker pool is not started")
	}
	p.incrementSubmitted()

	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// RunBatch runs tasks concurrently and waits for all of them. Results are
// returned in task order. A task that could not be queued reports the
// submission error as its result.
func (p *WorkerPool) RunBatch(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	done := make(chan indexedResult, len(tasks))

	queued := 0
	for i, task := range tasks {
		task.done = done
		task.idx = i
		if task.Context == nil {
			task.Context = ctx
		}
		if err := p.SubmitWithContext(ctx, task); err != nil {
			results[i] = Result{TaskID: task.ID, Error: err}
			continue
		}
		queued++
	}

	for ; queued > 0; queued-- {
		r := <-done
		results[r.idx] = r.result
	}
	return results
}

// Stop gracefully shuts down the worker pool. Tasks already picked up by a
// worker run to completion; queued tasks are drained and executed first.
func (p *WorkerPool) Stop() {
	p.stateMu.Lock()
	if p.stopped {
		p.stateMu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.stateMu.Unlock()

	if started {
		close(p.taskQueue)
		p.wg.Wait()
	}
	p.cancel()

	metrics := p.Metrics()
	p.logger.Debug("worker pool stopped",
		logger.Field{Key: "tasks_submitted", Value: metrics.TasksSubmitted},
		logger.Field{Key: "tasks_completed", Value: metrics.TasksCompleted},
		logger.Field{Key: "tasks_failed", Value: metrics.TasksFailed})
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workers
}

// QueueSize returns the current number of tasks waiting in the queue.
func (p *WorkerPool) QueueSize() int {
	return len(p.taskQueue)
}

// taskWaitGroup wraps sync.WaitGroup with thread-safe metrics access.
type taskWaitGroup struct {
	sync.RWMutex
	wg sync.WaitGroup
}

func newTaskWaitGroup() *taskWaitGroup {
	return &taskWaitGroup{}
}

func (twg *taskWaitGroup) Add(delta int) {
	twg.wg.Add(delta)
}

func (twg *taskWaitGroup) Done() {
	twg.wg.Done()
}

func (twg *taskWaitGroup) Wait() {
	twg.wg.Wait()
}
