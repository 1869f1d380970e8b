// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package pin

import (
	"bytes"
	"testing"

	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwarmDecoder(t *testing.T) {
	a := types.AddressOf([]byte("a"))
	b := types.AddressOf([]byte("b"))

	tests := []struct {
		name     string
		payload  []byte
		children []types.Address
		wantErr  bool
	}{
		{name: "empty leaf", payload: LeafChunk(nil)},
		{name: "leaf", payload: LeafChunk([]byte("hello"))},
		{name: "full leaf", payload: LeafChunk(bytes.Repeat([]byte{1}, MaxChunkData))},
		{name: "intermediate", payload: IntermediateChunk(2*MaxChunkData, a, b), children: []types.Address{a, b}},
		{name: "too short", payload: []byte{1, 2, 3}, wantErr: true},
		{name: "span mismatch", payload: append(LeafChunk([]byte("abc")), 'd'), wantErr: true},
		{name: "oversized", payload: LeafChunk(bytes.Repeat([]byte{1}, MaxChunkData+1)), wantErr: true},
		{name: "ragged references", payload: append(IntermediateChunk(2*MaxChunkData, a), 0xff), wantErr: true},
		{name: "no references", payload: IntermediateChunk(2 * MaxChunkData), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SwarmDecoder{}.Children(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedChunk)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.children, got)
		})
	}
}

func TestAcceptancePolicy(t *testing.T) {
	tests := []struct {
		name     string
		policy   AcceptancePolicy
		missing  int
		attempts int
		want     types.PinState
	}{
		{"strict complete", AcceptancePolicy{}, 0, 1, types.PinSucceeded},
		{"strict incomplete", AcceptancePolicy{}, 1, 1, types.PinPending},
		{"strict retries forever", AcceptancePolicy{}, 1, 100, types.PinPending},
		{"tolerant", AcceptancePolicy{MaxMissing: 2}, 2, 1, types.PinSucceeded},
		{"tolerant exceeded", AcceptancePolicy{MaxMissing: 2}, 3, 1, types.PinPending},
		{"attempts left", AcceptancePolicy{MaxAttempts: 3}, 1, 2, types.PinPending},
		{"attempts exhausted", AcceptancePolicy{MaxAttempts: 3}, 1, 3, types.PinFailed},
		{"success on last attempt", AcceptancePolicy{MaxAttempts: 3}, 0, 3, types.PinSucceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Decide(tt.missing, tt.attempts))
		})
	}
}
