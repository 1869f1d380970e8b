// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-memory implementation of Queue. Tasks do not survive
// a restart.
type MemoryQueue struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	heartbeats map[string]time.Time
	visibility time.Duration
	closed     bool
}

// MemoryQueueOption configures a MemoryQueue.
type MemoryQueueOption func(*MemoryQueue)

// WithVisibilityTimeout sets how long a running task may go without a
// heartbeat before another worker may claim it.
func WithVisibilityTimeout(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.visibility = d
	}
}

func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		tasks:      make(map[string]*Task),
		heartbeats: make(map[string]time.Time),
		visibility: DefaultVisibilityTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func copyTask(t *Task) *Task {
	cp := *t
	cp.Payload = slices.Clone(t.Payload)
	return &cp
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if task.DedupeKey != "" {
		for _, t := range q.tasks {
			if t.DedupeKey == task.DedupeKey && t.Status.Active() {
				return ErrDuplicateTask
			}
		}
	}

	now := time.Now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	task.UpdatedAt = now
	q.tasks[task.ID] = copyTask(task)
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	now := time.Now()
	var best *Task
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			if task.ScheduledAt.After(now) {
				continue
			}
			if !task.RetryAfter.IsZero() && task.RetryAfter.After(now) {
				continue
			}
		case StatusRunning:
			// Reclaim tasks whose worker stopped heartbeating
			if now.Sub(q.heartbeats[task.ID]) < q.visibility {
				continue
			}
		default:
			continue
		}
		if len(taskTypes) > 0 && !slices.Contains(taskTypes, task.Type) {
			continue
		}

		// Highest priority, oldest first
		if best == nil || task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}

	if best.Status == StatusRunning {
		best.Attempts++
		TaskRetries.WithLabelValues(string(best.Type)).Inc()
	}
	best.Status = StatusRunning
	best.WorkerID = workerID
	startTime := now
	best.StartedAt = &startTime
	best.UpdatedAt = now
	q.heartbeats[best.ID] = now

	return copyTask(best), nil
}

func (q *MemoryQueue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	now := time.Now()
	task.Status = StatusCompleted
	task.CompletedAt = &now
	task.UpdatedAt = now
	delete(q.heartbeats, taskID)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, taskID string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}

	now := time.Now()
	task.Attempts++
	task.LastError = err.Error()
	task.UpdatedAt = now
	delete(q.heartbeats, taskID)

	if task.Attempts >= task.MaxRetries {
		task.Status = StatusDeadLetter
	} else {
		task.RetryAfter = now.Add(retryBackoff(task.Attempts))
		task.Status = StatusPending
		task.WorkerID = ""
		TaskRetries.WithLabelValues(string(task.Type)).Inc()
	}
	return nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = StatusCancelled
	task.UpdatedAt = time.Now()
	delete(q.heartbeats, taskID)
	return nil
}

func (q *MemoryQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok || task.WorkerID != workerID || task.Status != StatusRunning {
		return ErrTaskNotFound
	}
	now := time.Now()
	q.heartbeats[taskID] = now
	task.UpdatedAt = now
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return copyTask(task), nil
}

func (q *MemoryQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var result []*Task
	for _, task := range q.tasks {
		if filter.Type != "" && task.Type != filter.Type {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.DedupeKey != "" && task.DedupeKey != filter.DedupeKey {
			continue
		}
		result = append(result, copyTask(task))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (q *MemoryQueue) Stats(ctx context.Context) (*QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := &QueueStats{
		ByType: make(map[TaskType]int64),
	}
	for _, task := range q.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
			stats.ByType[task.Type]++
			if stats.OldestPending == nil || task.ScheduledAt.Before(*stats.OldestPending) {
				oldest := task.ScheduledAt
				stats.OldestPending = &oldest
			}
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func (q *MemoryQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	count := 0
	for id, task := range q.tasks {
		if task.Status != StatusCompleted && task.Status != StatusCancelled {
			continue
		}
		if task.UpdatedAt.Before(cutoff) {
			delete(q.tasks, id)
			count++
		}
	}
	return count, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
