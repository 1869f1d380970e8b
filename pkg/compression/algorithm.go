// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression encodes chunk payloads at rest. Every stored value
// carries the algorithm that produced it, so the configured algorithm can
// change without rewriting existing data.
package compression

import "fmt"

// Algorithm names a block compression codec.
type Algorithm string

const (
	None Algorithm = "none"
	// LZ4 is fast with a moderate ratio.
	LZ4 Algorithm = "lz4"
	// ZSTD trades speed for the best ratio.
	ZSTD Algorithm = "zstd"
	// S2 is the fastest; a good default for 4 KiB chunks.
	S2 Algorithm = "s2"
)

func (a Algorithm) IsValid() bool {
	switch a {
	case None, LZ4, ZSTD, S2:
		return true
	default:
		return false
	}
}

func (a Algorithm) String() string {
	return string(a)
}

// ParseAlgorithm parses a configured algorithm. Empty means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	if s == "" {
		return None, nil
	}
	algo := Algorithm(s)
	if !algo.IsValid() {
		return None, fmt.Errorf("unknown compression algorithm %q", s)
	}
	return algo, nil
}
