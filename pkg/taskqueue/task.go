// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue provides a durable task queue for background processing.
//
// Supported backends:
//   - Database (PostgreSQL or MySQL), sharing the gateway's store
//   - In-memory, for tests and single-process setups
//
// The gateway uses it to run pin reconciliation and lease sweeps outside the
// request path, with retries and crash recovery.
package taskqueue

import (
	"encoding/json"
	"time"
)

// Default configuration values
const (
	DefaultPollInterval      = time.Second
	DefaultConcurrency       = 4
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxRetries        = 3
)

// TaskType identifies the type of task for routing to handlers.
type TaskType string

const (
	TaskTypePinReconcile TaskType = "pin_reconcile" // Reconcile one pin
	TaskTypeLockSweep    TaskType = "lock_sweep"    // Delete expired leases
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"     // Waiting to be picked up
	StatusRunning    TaskStatus = "running"     // Currently being processed
	StatusCompleted  TaskStatus = "completed"   // Successfully finished
	StatusFailed     TaskStatus = "failed"      // Failed, may retry
	StatusDeadLetter TaskStatus = "dead_letter" // Failed permanently
	StatusCancelled  TaskStatus = "cancelled"   // Cancelled by user/system
)

// Active reports whether the task can still run.
func (s TaskStatus) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// TaskPriority allows urgent tasks to be processed first.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 0
	PriorityNormal TaskPriority = 5
	PriorityHigh   TaskPriority = 10
)

// Task represents a unit of work to be processed.
type Task struct {
	ID       string       `json:"id" db:"id"`
	Type     TaskType     `json:"type" db:"type"`
	Status   TaskStatus   `json:"status" db:"status"`
	Priority TaskPriority `json:"priority" db:"priority"`

	// Payload - JSON encoded task-specific data
	Payload json.RawMessage `json:"payload" db:"payload"`

	// DedupeKey, when set, rejects a new task while another active task
	// carries the same key.
	DedupeKey string `json:"dedupe_key,omitempty" db:"dedupe_key"`

	// Scheduling
	ScheduledAt time.Time  `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Retry handling
	Attempts   int       `json:"attempts" db:"attempts"`
	MaxRetries int       `json:"max_retries" db:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitempty" db:"retry_after"`

	LastError string `json:"last_error,omitempty" db:"last_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	WorkerID  string    `json:"worker_id,omitempty" db:"worker_id"`
}

// TaskFilter for querying tasks.
type TaskFilter struct {
	Type      TaskType   `json:"type,omitempty"`
	Status    TaskStatus `json:"status,omitempty"`
	DedupeKey string     `json:"dedupe_key,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// QueueStats provides queue metrics.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`

	// Pending tasks by type
	ByType map[TaskType]int64 `json:"by_type"`

	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// PinReconcilePayload is the payload of a pin_reconcile task.
type PinReconcilePayload struct {
	PinID string `json:"pin_id"`
}

// NewPinReconcileTask builds a task reconciling pinID, deduplicated per pin.
func NewPinReconcileTask(pinID string) (*Task, error) {
	payload, err := MarshalPayload(PinReconcilePayload{PinID: pinID})
	if err != nil {
		return nil, err
	}
	return &Task{
		Type:       TaskTypePinReconcile,
		Priority:   PriorityNormal,
		Payload:    payload,
		DedupeKey:  string(TaskTypePinReconcile) + ":" + pinID,
		MaxRetries: DefaultMaxRetries,
	}, nil
}

// NewLockSweepTask builds a lease sweep task. Only one can be active.
func NewLockSweepTask() *Task {
	return &Task{
		Type:       TaskTypeLockSweep,
		Priority:   PriorityLow,
		Payload:    json.RawMessage(`{}`),
		DedupeKey:  string(TaskTypeLockSweep),
		MaxRetries: 1,
	}
}

// MarshalPayload is a helper to marshal a payload struct to JSON.
func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// UnmarshalPayload is a helper to unmarshal a JSON payload.
func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}

// retryBackoff is the delay before a failed task is retried.
func retryBackoff(attempts int) time.Duration {
	return time.Duration(1<<min(attempts, 10)) * time.Second
}
