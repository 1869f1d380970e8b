// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package leveldb provides an embedded, single-process authoritative chunk tier.
package leveldb

import (
	"context"
	"errors"
	"hash/maphash"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/compression"
	"github.com/LeeDigitalWorks/beegate/pkg/storage/index"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/syndtr/goleveldb/leveldb/opt"
)

const lockStripes = 64

// record is the gob-encoded value stored per address. Codec is the
// algorithm Payload is encoded with.
type record struct {
	Payload   []byte
	Codec     compression.Algorithm
	Pins      []string
	CreatedAt time.Time
}

// ChunkStore implements store.ChunkStore over an index.Indexer. Read-modify-write
// operations are serialized per address by a striped mutex, which makes them
// atomic as long as a single process owns the directory.
type ChunkStore struct {
	idx   index.Indexer[types.Address, record]
	codec compression.Algorithm
	seed  maphash.Seed
	locks [lockStripes]sync.Mutex
}

var _ store.ChunkStore = (*ChunkStore)(nil)

type Option func(*ChunkStore)

// WithCompression encodes new payloads with algo when that saves space.
// Existing records keep the codec they were written with.
func WithCompression(algo compression.Algorithm) Option {
	return func(s *ChunkStore) {
		s.codec = algo
	}
}

// Open opens the chunk tier rooted at dir.
func Open(dir string, opts ...Option) (*ChunkStore, error) {
	idx, err := index.NewLevelDBIndexer[types.Address, record](dir, &opt.Options{},
		func(a types.Address) []byte { return a.Bytes() },
		types.AddressFromBytes,
	)
	if err != nil {
		return nil, types.NewPersistenceError("open chunk index", err)
	}
	return New(idx, opts...), nil
}

// New wraps an existing indexer.
func New(idx index.Indexer[types.Address, record], opts ...Option) *ChunkStore {
	s := &ChunkStore{idx: idx, codec: compression.None, seed: maphash.MakeSeed()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemory returns a ChunkStore backed by an in-memory index.
func NewMemory(opts ...Option) *ChunkStore {
	return New(index.NewMemoryIndexer[types.Address, record](), opts...)
}

func (s *ChunkStore) lock(addr types.Address) *sync.Mutex {
	return &s.locks[maphash.Bytes(s.seed, addr[:])%lockStripes]
}

func (s *ChunkStore) Close() error {
	return s.idx.Close()
}

func (s *ChunkStore) GetChunk(ctx context.Context, addr types.Address) (*types.Chunk, error) {
	rec, err := s.idx.Get(addr)
	if errors.Is(err, index.ErrNotFound) {
		return nil, types.NewNotFoundError("chunk", addr.String())
	}
	if err != nil {
		return nil, types.NewPersistenceError("get chunk", err)
	}
	payload, err := compression.Decompress(rec.Codec, rec.Payload)
	if err != nil {
		return nil, types.NewPersistenceError("decode chunk", err)
	}
	return &types.Chunk{Address: addr, Payload: payload, Pins: rec.Pins, CreatedAt: rec.CreatedAt}, nil
}

func (s *ChunkStore) CreateChunk(ctx context.Context, chunk *types.Chunk) (bool, error) {
	mu := s.lock(chunk.Address)
	mu.Lock()
	defer mu.Unlock()

	exists, err := s.idx.Has(chunk.Address)
	if err != nil {
		return false, types.NewPersistenceError("create chunk", err)
	}
	if exists {
		return false, nil
	}
	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	payload, codec, err := compression.CompressIfBeneficial(s.codec, chunk.Payload)
	if err != nil {
		return false, types.NewPersistenceError("encode chunk", err)
	}
	rec := record{Payload: payload, Codec: codec, CreatedAt: createdAt.UTC()}
	if err := s.idx.PutSync(chunk.Address, rec); err != nil {
		return false, types.NewPersistenceError("create chunk", err)
	}
	return true, nil
}

func (s *ChunkStore) DeleteChunk(ctx context.Context, addr types.Address) (bool, error) {
	mu := s.lock(addr)
	mu.Lock()
	defer mu.Unlock()

	exists, err := s.idx.Has(addr)
	if err != nil {
		return false, types.NewPersistenceError("delete chunk", err)
	}
	if !exists {
		return false, nil
	}
	if err := s.idx.Delete(addr); err != nil {
		return false, types.NewPersistenceError("delete chunk", err)
	}
	return true, nil
}

func (s *ChunkStore) AddChunkPin(ctx context.Context, addr types.Address, pinID string) error {
	mu := s.lock(addr)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.idx.Get(addr)
	if errors.Is(err, index.ErrNotFound) {
		return types.NewNotFoundError("chunk", addr.String())
	}
	if err != nil {
		return types.NewPersistenceError("add chunk pin", err)
	}
	c := types.Chunk{Pins: rec.Pins}
	if !c.AddPin(pinID) {
		return nil
	}
	rec.Pins = c.Pins
	if err := s.idx.PutSync(addr, rec); err != nil {
		return types.NewPersistenceError("add chunk pin", err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *ChunkStore) Count() (int, error) {
	n := 0
	err := s.idx.Iterate(func(types.Address, record) error {
		n++
		return nil
	})
	return n, err
}
