// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue/queuetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) taskqueue.Queue {
		q := taskqueue.NewMemoryQueue()
		t.Cleanup(func() { q.Close() })
		return q
	})
}

func TestMemoryQueue_ReclaimsStaleTasks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := taskqueue.NewMemoryQueue(taskqueue.WithVisibilityTimeout(time.Minute))

		task := taskqueue.NewLockSweepTask()
		require.NoError(t, q.Enqueue(ctx, task))

		got, err := q.Dequeue(ctx, "crashed")
		require.NoError(t, err)
		require.NotNil(t, got)

		time.Sleep(30 * time.Second)
		none, err := q.Dequeue(ctx, "w2")
		require.NoError(t, err)
		assert.Nil(t, none, "still within the visibility timeout")

		// A heartbeat keeps the claim alive past the original deadline
		require.NoError(t, q.Heartbeat(ctx, task.ID, "crashed"))
		time.Sleep(45 * time.Second)
		none, err = q.Dequeue(ctx, "w2")
		require.NoError(t, err)
		assert.Nil(t, none)

		time.Sleep(20 * time.Second)
		got, err = q.Dequeue(ctx, "w2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, "w2", got.WorkerID)
		assert.Equal(t, 1, got.Attempts, "reclaiming counts as an attempt")

		assert.ErrorIs(t, q.Heartbeat(ctx, task.ID, "crashed"), taskqueue.ErrTaskNotFound)
	})
}

func TestMemoryQueue_RetryBackoff(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := taskqueue.NewMemoryQueue()

		task, err := taskqueue.NewPinReconcileTask("pin-1")
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, task))

		_, err = q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, task.ID, errors.New("upstream down")))

		// First retry waits 2s
		time.Sleep(1900 * time.Millisecond)
		none, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		assert.Nil(t, none)

		time.Sleep(200 * time.Millisecond)
		got, err := q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.NoError(t, q.Fail(ctx, task.ID, errors.New("upstream down")))

		// Second retry waits 4s
		time.Sleep(3900 * time.Millisecond)
		none, err = q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		assert.Nil(t, none)
		time.Sleep(200 * time.Millisecond)
		got, err = q.Dequeue(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, got)
	})
}

func TestMemoryQueue_DefaultsAndCopies(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewMemoryQueue()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeLockSweep, Payload: []byte(`{"a":1}`)}
	require.NoError(t, q.Enqueue(ctx, task))
	assert.Equal(t, taskqueue.DefaultMaxRetries, task.MaxRetries)
	assert.Equal(t, taskqueue.StatusPending, task.Status)

	// Mutating the caller's task does not leak into the queue
	task.Payload[0] = 'x'
	stored, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(stored.Payload))
}

func TestMemoryQueue_Closed(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewMemoryQueue()
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, taskqueue.NewLockSweepTask()), taskqueue.ErrQueueClosed)
	_, err := q.Dequeue(ctx, "w1")
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)
}

func TestRecordStats(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewMemoryQueue()
	require.NoError(t, q.Enqueue(ctx, taskqueue.NewLockSweepTask()))

	stats, err := taskqueue.RecordStats(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.ByType[taskqueue.TaskTypeLockSweep])
}
