// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueuePins(t *testing.T, q taskqueue.Queue, ids ...string) []*taskqueue.Task {
	t.Helper()
	tasks := make([]*taskqueue.Task, 0, len(ids))
	for _, id := range ids {
		task, err := taskqueue.NewPinReconcileTask(id)
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(context.Background(), task))
		tasks = append(tasks, task)
	}
	return tasks
}

func TestWorker_ProcessesAllTasks(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := taskqueue.NewMemoryQueue()
		tasks := enqueuePins(t, q, "a", "b", "c", "d", "e")

		var handled atomic.Int32
		w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w1", Queue: q, Concurrency: 2})
		w.RegisterHandler(taskqueue.HandlerFunc{
			TaskType: taskqueue.TaskTypePinReconcile,
			Fn: func(ctx context.Context, task *taskqueue.Task) error {
				handled.Add(1)
				return nil
			},
		})
		w.Start(ctx)

		time.Sleep(2 * taskqueue.DefaultPollInterval)
		w.Stop()
		w.Stop()

		assert.Equal(t, int32(5), handled.Load())
		for _, task := range tasks {
			got, err := q.Get(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, taskqueue.StatusCompleted, got.Status)
		}
	})
}

func TestWorker_ProcessOne(t *testing.T) {
	ctx := context.Background()
	q := taskqueue.NewMemoryQueue()
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w1", Queue: q})
	w.RegisterHandler(taskqueue.HandlerFunc{
		TaskType: taskqueue.TaskTypePinReconcile,
		Fn: func(ctx context.Context, task *taskqueue.Task) error {
			return errors.New("upstream down")
		},
	})
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskTypePinReconcile}, w.HandlerTypes())
	assert.Same(t, q, w.Queue())

	assert.False(t, w.ProcessOne(ctx), "empty queue")

	task := enqueuePins(t, q, "a")[0]
	assert.True(t, w.ProcessOne(ctx))
	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "upstream down", got.LastError)

	// A task with no handler is failed rather than left running
	sweep := taskqueue.NewLockSweepTask()
	require.NoError(t, q.Enqueue(ctx, sweep))
	assert.True(t, w.ProcessOne(ctx, taskqueue.TaskTypeLockSweep))
	got, err = q.Get(ctx, sweep.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusDeadLetter, got.Status, "sweeps are not retried")
}

func TestWorker_HeartbeatKeepsLongTaskClaimed(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := taskqueue.NewMemoryQueue(taskqueue.WithVisibilityTimeout(10 * time.Second))
		task := enqueuePins(t, q, "slow")[0]

		w := taskqueue.NewWorker(taskqueue.WorkerConfig{
			ID:                "w1",
			Queue:             q,
			HeartbeatInterval: 2 * time.Second,
		})
		w.RegisterHandler(taskqueue.HandlerFunc{
			TaskType: taskqueue.TaskTypePinReconcile,
			Fn: func(ctx context.Context, task *taskqueue.Task) error {
				time.Sleep(time.Minute)
				return nil
			},
		})

		done := make(chan bool)
		go func() { done <- w.ProcessOne(ctx) }()

		time.Sleep(30 * time.Second)
		synctest.Wait()
		other, err := q.Dequeue(ctx, "w2")
		require.NoError(t, err)
		assert.Nil(t, other, "heartbeats keep the task claimed")

		assert.True(t, <-done)
		got, err := q.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, taskqueue.StatusCompleted, got.Status)
		assert.Equal(t, 0, got.Attempts)
	})
}

func TestWorker_StartWithoutHandlers(t *testing.T) {
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "idle", Queue: taskqueue.NewMemoryQueue()})
	w.Start(context.Background())
	w.Stop()
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		w := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w1", Queue: taskqueue.NewMemoryQueue()})
		w.RegisterHandler(taskqueue.HandlerFunc{
			TaskType: taskqueue.TaskTypeLockSweep,
			Fn:       func(ctx context.Context, task *taskqueue.Task) error { return nil },
		})
		w.Start(ctx)
		time.Sleep(3 * time.Second)
		cancel()
		w.Stop()
	})
}
