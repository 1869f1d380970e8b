// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package index provides typed key/value indexes over embedded storage.
package index

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("index: key not found")

type Indexer[K comparable, V any] interface {
	io.Closer
	Put(key K, value V) error
	// Get returns ErrNotFound for an absent key.
	Get(key K) (V, error)
	Has(key K) (bool, error)
	Delete(key K) error
	Iterate(func(key K, value V) error) error

	// Sync forces buffered writes to disk
	Sync() error

	// PutSync writes with immediate fsync
	PutSync(key K, value V) error

	// Destroy closes the index and removes its files
	Destroy() error
}
