// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package nodepool

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// Mode is a selection policy among healthy candidates.
type Mode int

const (
	ModeRandom Mode = iota
	ModeRoundRobin
)

func (m Mode) String() string {
	switch m {
	case ModeRoundRobin:
		return "round_robin"
	default:
		return "random"
	}
}

// ParseMode accepts "random" and "round_robin".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "random":
		return ModeRandom, nil
	case "round_robin", "roundrobin":
		return ModeRoundRobin, nil
	}
	return ModeRandom, types.NewValidationError("unknown selection mode %q", s)
}

// Filter narrows the candidate set.
type Filter func(h *Handle) bool

// WithBatch keeps nodes that own the postage batch.
func WithBatch(batchID string) Filter {
	batchID = strings.ToLower(batchID)
	return func(h *Handle) bool {
		return h.HasBatch(batchID)
	}
}

// WithBatchCreation keeps nodes allowed to buy postage batches.
func WithBatchCreation() Filter {
	return func(h *Handle) bool {
		return h.record.Load().BatchCreationEnabled
	}
}

// SelectHealthy returns a healthy node matching every filter. It waits for
// the initial LoadAll (bounded by ctx) and fails with a NodeUnavailable error
// when nothing matches. It never waits on the heartbeat.
func (p *Pool) SelectHealthy(ctx context.Context, mode Mode, filters ...Filter) (*Handle, error) {
	select {
	case <-p.loaded:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if h := p.pick(mode, filters); h != nil {
		return h, nil
	}
	SelectionFailuresTotal.Inc()
	return nil, types.NewNodeUnavailableError("no healthy node matches the request")
}

// TrySelectHealthy is SelectHealthy for callers with a fallback: it reports
// absence instead of failing.
func (p *Pool) TrySelectHealthy(ctx context.Context, mode Mode, filters ...Filter) (*Handle, bool) {
	h, err := p.SelectHealthy(ctx, mode, filters...)
	return h, err == nil
}

func (p *Pool) pick(mode Mode, filters []Filter) *Handle {
	handles := p.snap.Load().handles
	candidates := make([]*Handle, 0, len(handles))
outer:
	for _, h := range handles {
		if !h.IsAlive() {
			continue
		}
		for _, f := range filters {
			if !f(h) {
				continue outer
			}
		}
		candidates = append(candidates, h)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch mode {
	case ModeRoundRobin:
		return candidates[(p.rr.Add(1)-1)%uint64(len(candidates))]
	default:
		return candidates[rand.IntN(len(candidates))]
	}
}
