// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package storetest holds a conformance suite run against every store.Store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the suite. newStore must return an empty, isolated store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Nodes", func(t *testing.T) { testNodes(t, newStore(t)) })
	t.Run("LeaseExclusion", func(t *testing.T) { testLeaseExclusion(t, newStore(t)) })
	t.Run("LeaseConcurrentAcquire", func(t *testing.T) { testLeaseConcurrentAcquire(t, newStore(t)) })
	t.Run("LeaseSweep", func(t *testing.T) { testLeaseSweep(t, newStore(t)) })
	t.Run("Chunks", func(t *testing.T) { testChunks(t, newStore(t)) })
	t.Run("ChunkPinsConcurrent", func(t *testing.T) { testChunkPinsConcurrent(t, newStore(t)) })
	t.Run("Pins", func(t *testing.T) { testPins(t, newStore(t)) })
	t.Run("Uploads", func(t *testing.T) { testUploads(t, newStore(t)) })
}

// Truncated to microseconds so SQL round trips compare equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newNode(endpoint string) *types.NodeRecord {
	ts := now()
	return &types.NodeRecord{
		ID:        uuid.NewString(),
		Endpoint:  endpoint,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

func testNodes(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := newNode("http://bee-a:1633")
	a.Overlay = "aa"
	require.NoError(t, s.CreateNode(ctx, a))

	dup := newNode("http://bee-a:1633")
	err := s.CreateNode(ctx, dup)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeConflict), "duplicate endpoint: %v", err)

	got, err := s.GetNode(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Endpoint, got.Endpoint)
	assert.Equal(t, "aa", got.Overlay)

	b := newNode("http://bee-b:1633")
	require.NoError(t, s.CreateNode(ctx, b))

	b.Endpoint = "http://bee-b2:1633"
	b.BatchCreationEnabled = true
	require.NoError(t, s.UpdateNode(ctx, b))
	got, err = s.GetNode(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://bee-b2:1633", got.Endpoint)
	assert.True(t, got.BatchCreationEnabled)

	b.Endpoint = a.Endpoint
	err = s.UpdateNode(ctx, b)
	assert.True(t, types.IsCode(err, types.ErrCodeConflict), "update onto taken endpoint: %v", err)

	nodes, err := s.ListNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	found, err := s.DeleteNode(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = s.DeleteNode(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.GetNode(ctx, a.ID)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))

	// endpoint is free again after deletion
	require.NoError(t, s.CreateNode(ctx, newNode("http://bee-a:1633")))
}

func testLeaseExclusion(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := now()
	res := "pin:" + uuid.NewString()

	ok, err := s.TryAcquire(ctx, res, "owner-1", t0.Add(time.Minute), t0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryAcquire(ctx, res, "owner-2", t0.Add(time.Minute), t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "unexpired lease must not be taken over")

	// renew by a stranger is refused, by the owner accepted
	ok, err = s.Renew(ctx, res, "owner-2", t0.Add(2*time.Minute), t0)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Renew(ctx, res, "owner-1", t0.Add(2*time.Minute), t0)
	require.NoError(t, err)
	assert.True(t, ok)

	// release by a stranger is a no-op
	ok, err = s.Release(ctx, res, "owner-2")
	require.NoError(t, err)
	assert.False(t, ok)
	l, err := s.GetLease(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", l.Owner)

	// after expiry another owner takes over, and the stale owner cannot release it
	later := t0.Add(3 * time.Minute)
	ok, err = s.TryAcquire(ctx, res, "owner-2", later.Add(time.Minute), later)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Release(ctx, res, "owner-1")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Renew(ctx, res, "owner-1", later.Add(time.Hour), later)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Release(ctx, res, "owner-2")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.GetLease(ctx, res)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
}

func testLeaseConcurrentAcquire(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := now()
	res := "resource:" + uuid.NewString()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.TryAcquire(ctx, res, fmt.Sprintf("owner-%d", i), t0.Add(time.Minute), t0)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func testLeaseSweep(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := now()

	for i := 0; i < 3; i++ {
		ok, err := s.TryAcquire(ctx, fmt.Sprintf("expired-%d-%s", i, uuid.NewString()), "o", t0.Add(time.Second), t0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	live := "live-" + uuid.NewString()
	ok, err := s.TryAcquire(ctx, live, "o", t0.Add(time.Hour), t0)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.SweepExpired(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.GetLease(ctx, live)
	assert.NoError(t, err)
}

func testChunks(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := types.NewChunk([]byte("chunk payload"))
	c.CreatedAt = now()

	created, err := s.CreateChunk(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateChunk(ctx, c)
	require.NoError(t, err)
	assert.False(t, created, "second create is ignored")

	require.NoError(t, s.AddChunkPin(ctx, c.Address, "pin-1"))
	require.NoError(t, s.AddChunkPin(ctx, c.Address, "pin-1"))
	require.NoError(t, s.AddChunkPin(ctx, c.Address, "pin-2"))

	got, err := s.GetChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.Equal(t, c.Payload, got.Payload)
	assert.ElementsMatch(t, []string{"pin-1", "pin-2"}, got.Pins)

	found, err := s.DeleteChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.True(t, found)
	found, err = s.DeleteChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.GetChunk(ctx, c.Address)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
}

func testChunkPinsConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()

	c := types.NewChunk([]byte("shared"))
	c.CreatedAt = now()
	_, err := s.CreateChunk(ctx, c)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.AddChunkPin(ctx, c.Address, fmt.Sprintf("pin-%d", i%5)))
		}(i)
	}
	wg.Wait()

	got, err := s.GetChunk(ctx, c.Address)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pin-0", "pin-1", "pin-2", "pin-3", "pin-4"}, got.Pins)
}

func testPins(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := now()

	root := types.AddressOf([]byte("root"))
	p := &types.Pin{
		ID:        uuid.NewString(),
		Reference: root,
		State:     types.PinPending,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
	require.NoError(t, s.CreatePin(ctx, p))

	second := &types.Pin{
		ID:        uuid.NewString(),
		Reference: types.AddressOf([]byte("other")),
		State:     types.PinPending,
		CreatedAt: t0.Add(time.Second),
		UpdatedAt: t0.Add(time.Second),
	}
	require.NoError(t, s.CreatePin(ctx, second))

	pending, err := s.ListPins(ctx, types.PinPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, p.ID, pending[0].ID, "oldest first")

	missing := []types.Address{types.AddressOf([]byte("gone"))}
	err = s.FinishPinRun(ctx, p.ID, types.PinResult{
		State:        types.PinSucceeded,
		Missing:      missing,
		PinnedCount:  7,
		InvalidCount: 1,
	}, t0.Add(time.Minute))
	require.NoError(t, err)

	got, err := s.GetPin(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PinSucceeded, got.State)
	assert.Equal(t, root, got.Reference)
	assert.Equal(t, missing, got.Missing)
	assert.Equal(t, 7, got.PinnedCount)
	assert.Equal(t, 1, got.InvalidCount)
	assert.Equal(t, 1, got.Attempts)

	pending, err = s.ListPins(ctx, types.PinPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	err = s.FinishPinRun(ctx, "missing-pin", types.PinResult{State: types.PinFailed}, t0)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))

	_, err = s.GetPin(ctx, "missing-pin")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
}

func testUploads(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := now()

	var addrs []types.Address
	for i := 0; i < 5; i++ {
		addr := types.AddressOf([]byte(fmt.Sprintf("upload-%d", i)))
		addrs = append(addrs, addr)
		added, err := s.EnqueueUpload(ctx, types.UploadedChunkRef{Address: addr, EnqueuedAt: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		assert.True(t, added)
	}

	added, err := s.EnqueueUpload(ctx, types.UploadedChunkRef{Address: addrs[0], EnqueuedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, added)

	refs, err := s.ListUploads(ctx, 3)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	for i, ref := range refs {
		assert.Equal(t, addrs[i], ref.Address)
	}

	removed, err := s.RemoveUpload(ctx, addrs[0])
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveUpload(ctx, addrs[0])
	require.NoError(t, err)
	assert.False(t, removed)

	refs, err = s.ListUploads(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, refs, 4)
	assert.Equal(t, addrs[1], refs[0].Address)
}
