// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// PinState is the reconciliation state of a pin.
type PinState string

const (
	PinPending   PinState = "pending"
	PinSucceeded PinState = "succeeded"
	PinFailed    PinState = "failed"
)

func (s PinState) Valid() bool {
	switch s {
	case PinPending, PinSucceeded, PinFailed:
		return true
	}
	return false
}

// Pin is a request to retain every chunk reachable from Reference.
type Pin struct {
	ID           string
	Reference    Address
	State        PinState
	Missing      []Address
	PinnedCount  int
	InvalidCount int
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PinResult is the outcome of one reconciliation run, written in a single update.
type PinResult struct {
	State        PinState
	Missing      []Address
	PinnedCount  int
	InvalidCount int
}
