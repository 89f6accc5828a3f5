package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/aatumaykin/jobrelay/internal/logger"
)

// worker drains the task queue until Stop closes it.
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", logger.Field{Key: "worker_id", Value: id})

	for task := range p.taskQueue {
		p.processTask(id, task)
	}

	p.logger.Debug("worker stopping", logger.Field{Key: "worker_id", Value: id})
}

// processTask handles a single task execution with metrics and error handling.
func (p *WorkerPool) processTask(workerID int, task Task) {
	startTime := time.Now()

	execCtx := p.ctx
	if task.Context != nil {
		execCtx = task.Context
	}

	result := Result{TaskID: task.ID, Error: p.execute(execCtx, task)}
	result.Duration = time.Since(startTime)

	if result.Error != nil {
		p.incrementFailed()
	} else {
		p.incrementCompleted()
	}
	p.recordDuration(result.Duration)

	if task.done != nil {
		task.done <- indexedResult{idx: task.idx, result: result}
	}

	p.logger.Debug("task processed",
		logger.Field{Key: "worker_id", Value: workerID},
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "duration_ms", Value: result.Duration.Milliseconds()},
		logger.Field{Key: "error", Value: result.Error})
}

// execute runs the task, turning a panic into an error so one bad task
// cannot take a worker down.
func (p *WorkerPool) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
			p.logger.Error("task panic recovered", err,
				logger.Field{Key: "task_id", Value: task.ID})
		}
	}()

	if task.Run == nil {
		return fmt.Errorf("task %s has no function", task.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return task.Run(ctx)
}
