// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
	"github.com/LeeDigitalWorks/beegate/pkg/utils"
)

// every runs fn on a jittered interval until ctx is done. A non-positive
// interval disables the loop.
func (g *Gateway) every(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}
	g.loops.Add(1)
	go func() {
		defer g.loops.Done()
		ticker, stop := utils.JitteredTicker(interval, 0.1)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					SchedulerErrorsTotal.WithLabelValues(name).Inc()
					logger.Warn().Err(err).Str("job", name).Msg("gateway: scheduled job failed")
				}
			}
		}
	}()
}

// ScanPending queues a reconciliation for up to PendingScanLimit pending
// pins, skipping pins that already have one queued or running. It returns
// the number of new tasks.
func (g *Gateway) ScanPending(ctx context.Context) (int, error) {
	pins, err := g.pins.List(ctx, types.PinPending, g.cfg.Tasks.PendingScanLimit)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, p := range pins {
		task, err := taskqueue.NewPinReconcileTask(p.ID)
		if err != nil {
			return queued, err
		}
		added, err := taskqueue.EnqueueOnce(ctx, g.queue, task)
		if err != nil {
			return queued, err
		}
		if added {
			queued++
		}
	}
	if queued > 0 {
		ScheduledTasksTotal.WithLabelValues(string(taskqueue.TaskTypePinReconcile)).Add(float64(queued))
		logger.Debug().Int("pending", len(pins)).Int("queued", queued).Msg("gateway: queued pending pins")
	}
	return queued, nil
}

// ScheduleLockSweep queues a lease sweep unless one is already queued.
func (g *Gateway) ScheduleLockSweep(ctx context.Context) error {
	added, err := taskqueue.EnqueueOnce(ctx, g.queue, taskqueue.NewLockSweepTask())
	if added {
		ScheduledTasksTotal.WithLabelValues(string(taskqueue.TaskTypeLockSweep)).Inc()
	}
	return err
}
