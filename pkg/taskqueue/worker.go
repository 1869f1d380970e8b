// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
)

// Worker polls the queue and executes tasks.
type Worker struct {
	id       string
	queue    Queue
	handlers map[TaskType]Handler

	pollInterval      time.Duration
	concurrency       int
	heartbeatInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// WorkerConfig configures the task worker.
type WorkerConfig struct {
	ID           string
	Queue        Queue
	PollInterval time.Duration
	Concurrency  int
	// HeartbeatInterval is how often a running task is heartbeated. It must
	// be well below the queue's visibility timeout.
	HeartbeatInterval time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultVisibilityTimeout / 5
	}
	return &Worker{
		id:                cfg.ID,
		queue:             cfg.Queue,
		handlers:          make(map[TaskType]Handler),
		pollInterval:      cfg.PollInterval,
		concurrency:       cfg.Concurrency,
		heartbeatInterval: cfg.HeartbeatInterval,
		stopCh:            make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a task type. Call before Start.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Type()] = h
	logger.Debug().
		Str("type", string(h.Type())).
		Msg("taskqueue: registered handler")
}

// Start begins processing tasks.
func (w *Worker) Start(ctx context.Context) {
	types := w.HandlerTypes()
	if len(types) == 0 {
		logger.Warn().Msg("taskqueue: worker started with no handlers")
		return
	}

	logger.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.concurrency).
		Int("handlers", len(types)).
		Msg("taskqueue: worker starting")

	for range w.concurrency {
		w.wg.Add(1)
		go w.work(ctx, types)
	}
}

// Stop shuts the worker down and waits for in-flight tasks. Safe to call
// more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	logger.Info().Str("worker_id", w.id).Msg("taskqueue: worker stopped")
}

func (w *Worker) work(ctx context.Context, types []TaskType) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain available work before waiting for the next tick
			for w.ProcessOne(ctx, types...) {
				select {
				case <-w.stopCh:
					return
				default:
				}
			}
		}
	}
}

// ProcessOne claims and runs a single task. It reports whether a task was
// processed.
func (w *Worker) ProcessOne(ctx context.Context, types ...TaskType) bool {
	task, err := w.queue.Dequeue(ctx, w.id, types...)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			DequeueErrors.Inc()
			logger.Error().Err(err).Msg("taskqueue: dequeue failed")
		}
		return false
	}
	if task == nil {
		return false
	}

	handler, ok := w.handlers[task.Type]
	if !ok {
		logger.Error().
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Msg("taskqueue: no handler for task type")
		TasksProcessedTotal.WithLabelValues(string(task.Type), "no_handler").Inc()
		if err := w.queue.Fail(ctx, task.ID, errors.New("no handler registered")); err != nil {
			logger.Warn().Err(err).Str("task_id", task.ID).Msg("taskqueue: failed to record failure")
		}
		return true
	}

	logger.Debug().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Int("attempt", task.Attempts).
		Msg("taskqueue: processing task")

	WorkerActive.Inc()
	defer WorkerActive.Dec()

	stop := w.heartbeat(ctx, task.ID)
	start := time.Now()
	err = handler.Handle(ctx, task)
	stop()
	TaskProcessingDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("type", string(task.Type)).
			Int("attempt", task.Attempts).
			Msg("taskqueue: task failed")
		TasksProcessedTotal.WithLabelValues(string(task.Type), "failed").Inc()
		if err := w.queue.Fail(ctx, task.ID, err); err != nil {
			logger.Warn().Err(err).Str("task_id", task.ID).Msg("taskqueue: failed to record failure")
		}
		return true
	}

	logger.Debug().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Msg("taskqueue: task completed")
	TasksProcessedTotal.WithLabelValues(string(task.Type), "completed").Inc()
	if err := w.queue.Complete(ctx, task.ID); err != nil {
		logger.Warn().Err(err).Str("task_id", task.ID).Msg("taskqueue: failed to record completion")
	}
	return true
}

// heartbeat keeps taskID claimed until the returned stop is called.
func (w *Worker) heartbeat(ctx context.Context, taskID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Heartbeat(ctx, taskID, w.id); err != nil && ctx.Err() == nil {
					logger.Warn().Err(err).Str("task_id", taskID).Msg("taskqueue: heartbeat failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Queue returns the underlying queue.
func (w *Worker) Queue() Queue {
	return w.queue
}

// HandlerTypes returns the task types this worker handles.
func (w *Worker) HandlerTypes() []TaskType {
	types := make([]TaskType, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	return types
}
