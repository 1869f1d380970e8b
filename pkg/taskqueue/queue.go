// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrQueueClosed    = errors.New("task queue is closed")
	ErrInvalidPayload = errors.New("invalid task payload")
	ErrDuplicateTask  = errors.New("an active task with the same dedupe key exists")
)

// Queue defines the interface for task queue operations.
type Queue interface {
	// Enqueue adds a task to the queue. Returns ErrDuplicateTask if the
	// task's DedupeKey is held by an active task.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue claims the next available task for processing, including
	// running tasks whose worker stopped heartbeating.
	// Returns nil if no tasks are available.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)

	// Complete marks a task as successfully completed.
	Complete(ctx context.Context, taskID string) error

	// Fail records a failed attempt. The task is retried with backoff until
	// it has failed MaxRetries times, then moved to the dead letter state.
	Fail(ctx context.Context, taskID string, err error) error

	// Cancel marks a task as cancelled.
	Cancel(ctx context.Context, taskID string) error

	// Heartbeat extends the visibility timeout for a running task.
	Heartbeat(ctx context.Context, taskID string, workerID string) error

	Get(ctx context.Context, taskID string) (*Task, error)

	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)

	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup removes completed and cancelled tasks older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// Handler processes tasks of a specific type.
type Handler interface {
	Type() TaskType
	Handle(ctx context.Context, task *Task) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	TaskType TaskType
	Fn       func(ctx context.Context, task *Task) error
}

func (h HandlerFunc) Type() TaskType {
	return h.TaskType
}

func (h HandlerFunc) Handle(ctx context.Context, task *Task) error {
	return h.Fn(ctx, task)
}

// EnqueueOnce enqueues task and treats a dedupe collision as success.
// It reports whether a new task was added.
func EnqueueOnce(ctx context.Context, q Queue, task *Task) (bool, error) {
	err := q.Enqueue(ctx, task)
	if errors.Is(err, ErrDuplicateTask) {
		return false, nil
	}
	return err == nil, err
}

// RecordStats reads queue statistics and publishes them as gauges.
func RecordStats(ctx context.Context, q Queue) (*QueueStats, error) {
	stats, err := q.Stats(ctx)
	if err != nil {
		return nil, err
	}
	QueueDepth.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	QueueDepth.WithLabelValues(string(StatusRunning)).Set(float64(stats.Running))
	QueueDepth.WithLabelValues(string(StatusDeadLetter)).Set(float64(stats.DeadLetter))
	return stats, nil
}
