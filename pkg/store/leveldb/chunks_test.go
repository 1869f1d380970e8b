// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package leveldb

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/LeeDigitalWorks/beegate/pkg/compression"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkStore_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := Open(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)
	defer s.Close()

	c := types.NewChunk([]byte("leveldb chunk"))

	created, err := s.CreateChunk(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.CreateChunk(ctx, c)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, s.AddChunkPin(ctx, c.Address, "p1"))
	require.NoError(t, s.AddChunkPin(ctx, c.Address, "p1"))

	got, err := s.GetChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.Equal(t, c.Payload, got.Payload)
	assert.Equal(t, []string{"p1"}, got.Pins)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	found, err := s.DeleteChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = s.DeleteChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.GetChunk(ctx, c.Address)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
	err = s.AddChunkPin(ctx, c.Address, "p1")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
}

func TestChunkStore_ConcurrentPins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewMemory()
	c := types.NewChunk([]byte("shared"))
	_, err := s.CreateChunk(ctx, c)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AddChunkPin(ctx, c.Address, fmt.Sprintf("pin-%d", i%10)))
		}(i)
	}
	wg.Wait()

	got, err := s.GetChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.Len(t, got.Pins, 10)
}

func TestChunkStore_Compression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := filepath.Join(t.TempDir(), "chunks")
	s, err := Open(dir, WithCompression(compression.S2))
	require.NoError(t, err)

	compressible := types.NewChunk(bytes.Repeat([]byte("abc"), 1000))
	random := make([]byte, 512)
	_, err = rand.Read(random)
	require.NoError(t, err)
	raw := types.NewChunk(random)

	for _, c := range []*types.Chunk{compressible, raw} {
		_, err := s.CreateChunk(ctx, c)
		require.NoError(t, err)
	}
	rec, err := s.idx.Get(compressible.Address)
	require.NoError(t, err)
	assert.Equal(t, compression.S2, rec.Codec)
	assert.Less(t, len(rec.Payload), len(compressible.Payload))

	rec, err = s.idx.Get(raw.Address)
	require.NoError(t, err)
	assert.Equal(t, compression.None, rec.Codec)
	require.NoError(t, s.Close())

	// Reopening with another codec still reads old records
	s, err = Open(dir, WithCompression(compression.ZSTD))
	require.NoError(t, err)
	defer s.Close()
	for _, c := range []*types.Chunk{compressible, raw} {
		got, err := s.GetChunk(ctx, c.Address)
		require.NoError(t, err)
		assert.Equal(t, c.Payload, got.Payload)
	}
}
