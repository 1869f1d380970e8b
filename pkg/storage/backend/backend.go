// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend provides blob stores for the legacy chunk tier.
// Chunks written by earlier deployments live here under their hex address
// until migrated into the authoritative tier.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Type names a blob store implementation.
type Type string

const (
	TypeLocal  Type = "local"
	TypeMemory Type = "memory"
	TypeS3     Type = "s3"
)

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("blob not found")

// BlobStore is a flat key/value blob store.
type BlobStore interface {
	Type() Type
	// Get returns ErrNotFound for an absent key.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config selects and configures a BlobStore.
type Config struct {
	Type      Type   `mapstructure:"type"`
	Path      string `mapstructure:"path"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Factory creates a BlobStore from config
type Factory func(ctx context.Context, cfg Config) (BlobStore, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Type]Factory)
)

// Register adds a factory for a store type
func Register(t Type, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a BlobStore from config
func New(ctx context.Context, cfg Config) (BlobStore, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown blob store type: %q", cfg.Type)
	}
	return f(ctx, cfg)
}
