// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// BucketUsage mirrors a node's per-bucket counters for one postage batch.
type BucketUsage struct {
	BatchID          string
	Depth            uint8
	BucketDepth      uint8
	BucketUpperBound uint32
	Buckets          []uint32
	SyncedAt         time.Time
}

// Utilization returns the fullest bucket's count.
func (u *BucketUsage) Utilization() uint32 {
	var highest uint32
	for _, c := range u.Buckets {
		if c > highest {
			highest = c
		}
	}
	return highest
}
