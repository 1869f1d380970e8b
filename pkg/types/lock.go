// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// ResourceLock is a lease row: one owner per resource until ExpiresAt.
type ResourceLock struct {
	ResourceID string
	Owner      string
	ExpiresAt  time.Time
}

// Expired reports whether the lease is reclaimable at now.
func (l ResourceLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
