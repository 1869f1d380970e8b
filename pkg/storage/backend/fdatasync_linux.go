// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package backend

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fdatasync flushes file data without forcing an atime/mtime update.
func Fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
