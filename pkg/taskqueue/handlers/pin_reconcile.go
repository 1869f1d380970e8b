// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/pin"
	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// PinRunner runs one reconciliation of a pin.
type PinRunner interface {
	Run(ctx context.Context, pinID string) (*types.Pin, error)
}

var _ PinRunner = (*pin.Reconciler)(nil)

// PinReconcileHandler processes pin_reconcile tasks.
type PinReconcileHandler struct {
	runner PinRunner
}

func NewPinReconcileHandler(runner PinRunner) *PinReconcileHandler {
	return &PinReconcileHandler{runner: runner}
}

func (h *PinReconcileHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypePinReconcile
}

// Handle runs the reconciliation. A pin busy in another run or deleted since
// the task was queued completes the task; other failures are retried.
func (h *PinReconcileHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[taskqueue.PinReconcilePayload](task.Payload)
	if err != nil || payload.PinID == "" {
		return fmt.Errorf("%w: %v", taskqueue.ErrInvalidPayload, err)
	}

	p, err := h.runner.Run(ctx, payload.PinID)
	switch {
	case err == nil:
		logger.Debug().
			Str("task_id", task.ID).
			Str("pin_id", p.ID).
			Str("state", string(p.State)).
			Msg("pin reconcile task finished")
		return nil
	case types.IsCode(err, types.ErrCodeLockConflict), types.IsCode(err, types.ErrCodeLockTimeout):
		logger.Debug().Str("pin_id", payload.PinID).Msg("pin reconcile task skipped, pin is busy")
		return nil
	case types.IsCode(err, types.ErrCodeNotFound):
		logger.Warn().Str("pin_id", payload.PinID).Msg("pin reconcile task for unknown pin")
		return nil
	default:
		return err
	}
}
