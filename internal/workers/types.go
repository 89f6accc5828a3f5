// Package workers provides a bounded worker pool. The consumer uses it to
// run the handlers of one claimed batch concurrently.
package workers

import (
	"context"
	"time"
)

// Task represents a unit of work to be executed by a worker.
type Task struct {
	ID      string                          // Unique task identifier
	Run     func(ctx context.Context) error // Work to execute
	Context context.Context                 // Task-specific context; defaults to the pool context

	done chan<- indexedResult
	idx  int
}

// Result represents the outcome of a task execution.
type Result struct {
	TaskID   string        // ID of the executed task
	Error    error         // Error if execution failed or panicked
	Duration time.Duration // Execution duration
}

// PoolMetrics tracks execution metrics for the worker pool.
type PoolMetrics struct {
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksFailed    uint64
	TotalDuration  time.Duration
}

type indexedResult struct {
	idx    int
	result Result
}

// Constants for worker pool configuration
const (
	DefaultPoolSize  = 4
	DefaultQueueSize = 64
)
