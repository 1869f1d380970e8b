// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package queuetest is a conformance suite for taskqueue.Queue implementations.
package queuetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty queue.
type Factory func(t *testing.T) taskqueue.Queue

// Run exercises q against the Queue contract.
func Run(t *testing.T, newQueue Factory) {
	t.Run("EnqueueDequeueComplete", func(t *testing.T) { testLifecycle(t, newQueue(t)) })
	t.Run("PriorityAndTypeFilter", func(t *testing.T) { testPriority(t, newQueue(t)) })
	t.Run("Dedupe", func(t *testing.T) { testDedupe(t, newQueue(t)) })
	t.Run("FailRetriesThenDeadLetters", func(t *testing.T) { testFail(t, newQueue(t)) })
	t.Run("Heartbeat", func(t *testing.T) { testHeartbeat(t, newQueue(t)) })
	t.Run("ListStatsCleanup", func(t *testing.T) { testListStats(t, newQueue(t)) })
}

func testLifecycle(t *testing.T, q taskqueue.Queue) {
	ctx := context.Background()

	task, err := taskqueue.NewPinReconcileTask("pin-1")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, task))
	require.NotEmpty(t, task.ID)

	got, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypePinReconcile)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, taskqueue.StatusRunning, got.Status)
	assert.Equal(t, "w1", got.WorkerID)

	payload, err := taskqueue.UnmarshalPayload[taskqueue.PinReconcilePayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "pin-1", payload.PinID)

	none, err := q.Dequeue(ctx, "w2", taskqueue.TaskTypePinReconcile)
	require.NoError(t, err)
	assert.Nil(t, none, "a running task is not handed out twice")

	require.NoError(t, q.Complete(ctx, task.ID))
	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	assert.ErrorIs(t, q.Complete(ctx, "missing"), taskqueue.ErrTaskNotFound)
	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)
}

func testPriority(t *testing.T, q taskqueue.Queue) {
	ctx := context.Background()

	low := taskqueue.NewLockSweepTask()
	require.NoError(t, q.Enqueue(ctx, low))
	normal, err := taskqueue.NewPinReconcileTask("pin-1")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, normal))

	got, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, normal.ID, got.ID, "higher priority first")

	none, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypePinReconcile)
	require.NoError(t, err)
	assert.Nil(t, none)

	got, err = q.Dequeue(ctx, "w1", taskqueue.TaskTypeLockSweep)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, low.ID, got.ID)

	future, err := taskqueue.NewPinReconcileTask("pin-2")
	require.NoError(t, err)
	future.ScheduledAt = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, future))
	none, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none, "scheduled tasks wait for their time")
}

func testDedupe(t *testing.T, q taskqueue.Queue) {
	ctx := context.Background()

	first, err := taskqueue.NewPinReconcileTask("pin-1")
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, first))

	dup, err := taskqueue.NewPinReconcileTask("pin-1")
	require.NoError(t, err)
	assert.ErrorIs(t, q.Enqueue(ctx, dup), taskqueue.ErrDuplicateTask)

	added, err := taskqueue.EnqueueOnce(ctx, q, dup)
	require.NoError(t, err)
	assert.False(t, added)

	other, err := taskqueue.NewPinReconcileTask("pin-2")
	require.NoError(t, err)
	added, err = taskqueue.EnqueueOnce(ctx, q, other)
	require.NoError(t, err)
	assert.True(t, added)

	// Once the first finishes the key is free again.
	got, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypePinReconcile)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.NoError(t, q.Complete(ctx, got.ID))

	again, err := taskqueue.NewPinReconcileTask(mustPinID(t, got))
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, again))
}

func mustPinID(t *testing.T, task *taskqueue.Task) string {
	t.Helper()
	p, err := taskqueue.UnmarshalPayload[taskqueue.PinReconcilePayload](task.Payload)
	require.NoError(t, err)
	return p.PinID
}

func testFail(t *testing.T, q taskqueue.Queue) {
	ctx := context.Background()

	task, err := taskqueue.NewPinReconcileTask("pin-1")
	require.NoError(t, err)
	task.MaxRetries = 2
	require.NoError(t, q.Enqueue(ctx, task))

	_, err = q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, task.ID, errors.New("boom")))

	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, "boom", stored.LastError)
	assert.True(t, stored.RetryAfter.After(time.Now()), "retry is delayed")

	none, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none, "backing off")

	require.NoError(t, q.Fail(ctx, task.ID, errors.New("boom again")))
	stored, err = q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusDeadLetter, stored.Status)
	assert.Equal(t, 2, stored.Attempts)

	assert.ErrorIs(t, q.Fail(ctx, "missing", errors.New("x")), taskqueue.ErrTaskNotFound)
}

func testHeartbeat(t *testing.T, q taskqueue.Queue) {
	ctx := context.Background()

	task := taskqueue.NewLockSweepTask()
	require.NoError(t, q.Enqueue(ctx, task))
	assert.ErrorIs(t, q.Heartbeat(ctx, task.ID, "w1"), taskqueue.ErrTaskNotFound, "not running yet")

	_, err := q.Dequeue(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Heartbeat(ctx, task.ID, "w1"))
	assert.ErrorIs(t, q.Heartbeat(ctx, task.ID, "w2"), taskqueue.ErrTaskNotFound, "wrong worker")

	require.NoError(t, q.Cancel(ctx, task.ID))
	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCancelled, stored.Status)
}

func testListStats(t *testing.T, q taskqueue.Queue) {
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		task, err := taskqueue.NewPinReconcileTask(id)
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, task))
	}
	require.NoError(t, q.Enqueue(ctx, taskqueue.NewLockSweepTask()))

	done, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeLockSweep)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, done.ID))

	all, err := q.List(ctx, taskqueue.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	pins, err := q.List(ctx, taskqueue.TaskFilter{Type: taskqueue.TaskTypePinReconcile, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, pins, 2)

	byKey, err := q.List(ctx, taskqueue.TaskFilter{DedupeKey: "pin_reconcile:b"})
	require.NoError(t, err)
	require.Len(t, byKey, 1)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(3), stats.ByType[taskqueue.TaskTypePinReconcile])
	assert.NotNil(t, stats.OldestPending)

	n, err := q.Cleanup(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	all, err = q.List(ctx, taskqueue.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
