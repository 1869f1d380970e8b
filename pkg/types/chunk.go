// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"slices"
	"time"
)

// Chunk is a content-addressed payload together with the pins retaining it.
type Chunk struct {
	Address   Address
	Payload   []byte
	Pins      []string
	CreatedAt time.Time
}

// NewChunk builds a chunk whose address is the digest of payload.
func NewChunk(payload []byte) *Chunk {
	return &Chunk{Address: AddressOf(payload), Payload: payload}
}

// HasPin reports whether pinID is in the chunk's back-reference set.
func (c *Chunk) HasPin(pinID string) bool {
	return slices.Contains(c.Pins, pinID)
}

// AddPin inserts pinID into the back-reference set. Returns false if it was present.
func (c *Chunk) AddPin(pinID string) bool {
	if c.HasPin(pinID) {
		return false
	}
	c.Pins = append(c.Pins, pinID)
	return true
}

// ChunkTier names the storage tier a chunk was served from.
type ChunkTier string

const (
	TierLocal  ChunkTier = "local"
	TierLegacy ChunkTier = "legacy"
	TierRemote ChunkTier = "remote"
)

// UploadedChunkRef marks a locally uploaded chunk awaiting propagation.
type UploadedChunkRef struct {
	Address    Address
	EnqueuedAt time.Time
}
