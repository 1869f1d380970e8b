// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"

	"github.com/LeeDigitalWorks/beegate/pkg/lock"
	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"
)

// Sweeper deletes expired leases.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

var _ Sweeper = (*lock.Locker)(nil)

// LockSweepHandler processes lock_sweep tasks.
type LockSweepHandler struct {
	sweeper Sweeper
}

func NewLockSweepHandler(sweeper Sweeper) *LockSweepHandler {
	return &LockSweepHandler{sweeper: sweeper}
}

func (h *LockSweepHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeLockSweep
}

func (h *LockSweepHandler) Handle(ctx context.Context, _ *taskqueue.Task) error {
	_, err := h.sweeper.SweepExpired(ctx)
	return err
}
