// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package pin

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/google/uuid"
)

// Service creates pins and drives reconciliation of pending ones.
type Service struct {
	pins       store.PinStore
	reconciler *Reconciler
	now        func() time.Time
}

func NewService(pins store.PinStore, reconciler *Reconciler) *Service {
	return &Service{pins: pins, reconciler: reconciler, now: time.Now}
}

// CreatePin records a pending pin on reference. Reconciliation happens later.
func (s *Service) CreatePin(ctx context.Context, reference types.Address) (*types.Pin, error) {
	if reference.IsZero() {
		return nil, types.NewValidationError("pin reference is required")
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	p := &types.Pin{
		ID:        uuid.NewString(),
		Reference: reference,
		State:     types.PinPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.pins.CreatePin(ctx, p); err != nil {
		return nil, err
	}
	PinsCreatedTotal.Inc()
	logger.Info().Str("pin_id", p.ID).Str("reference", reference.String()).Msg("pin: created")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*types.Pin, error) {
	return s.pins.GetPin(ctx, id)
}

// List returns up to limit pins in state, oldest first. Empty state lists all.
func (s *Service) List(ctx context.Context, state types.PinState, limit int) ([]*types.Pin, error) {
	if state != "" && !state.Valid() {
		return nil, types.NewValidationError("unknown pin state %q", state)
	}
	return s.pins.ListPins(ctx, state, limit)
}

// Reconcile runs reconciliation of one pin now.
func (s *Service) Reconcile(ctx context.Context, id string) (*types.Pin, error) {
	return s.reconciler.Run(ctx, id)
}

// RunPending reconciles up to limit pending pins, oldest first, and returns
// how many completed a run. Pins held by another run are skipped.
func (s *Service) RunPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.pins.ListPins(ctx, types.PinPending, limit)
	if err != nil {
		return 0, types.NewPersistenceError("list pending pins", err)
	}

	done := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		_, err := s.reconciler.Run(ctx, p.ID)
		switch {
		case err == nil:
			done++
		case types.IsCode(err, types.ErrCodeLockConflict), types.IsCode(err, types.ErrCodeLockTimeout):
			logger.Debug().Str("pin_id", p.ID).Msg("pin: skipped, reconciliation in progress elsewhere")
		case ctx.Err() != nil:
			return done, ctx.Err()
		default:
			logger.Error().Err(err).Str("pin_id", p.ID).Msg("pin: reconciliation failed")
		}
	}
	return done, nil
}
