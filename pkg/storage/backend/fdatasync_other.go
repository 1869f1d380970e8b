// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package backend

import "os"

// Fdatasync falls back to fsync where fdatasync is unavailable.
func Fdatasync(f *os.File) error {
	return f.Sync()
}
