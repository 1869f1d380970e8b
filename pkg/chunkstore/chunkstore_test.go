// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package chunkstore

import (
	"context"
	"errors"
	"testing"

	"github.com/LeeDigitalWorks/beegate/pkg/nodepool/nodepooltest"
	"github.com/LeeDigitalWorks/beegate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/store/memory"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	db     *memory.DB
	legacy *backend.Memory
	fleet  *nodepooltest.Fleet
	store  *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	fl := nodepooltest.NewFleet()
	pool := nodepooltest.NewPool(t, fl, memory.New(), "http://bee-1:1633")
	legacy := backend.NewMemory()

	cfg := DefaultConfig()
	cfg.RemoteFetchRPS = 0
	s := New(db, cfg, WithLegacy(legacy), WithUploads(db), WithNodes(pool))
	return &fixture{db: db, legacy: legacy, fleet: fl, store: s}
}

func TestFetchTierOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	node := f.fleet.Node("http://bee-1:1633")

	localData := []byte("local payload")
	localAddr := types.AddressOf(localData)
	require.True(t, f.store.Save(ctx, types.NewChunk(localData)))
	// The same address in lower tiers never shadows the local copy.
	require.NoError(t, f.legacy.Put(ctx, localAddr.String(), []byte("stale")))
	node.PutChunk(localAddr, []byte("stale"))

	legacyData := []byte("legacy payload")
	legacyAddr := types.AddressOf(legacyData)
	require.NoError(t, f.legacy.Put(ctx, legacyAddr.String(), legacyData))
	node.PutChunk(legacyAddr, []byte("stale"))

	remoteData := []byte("remote payload")
	remoteAddr := types.AddressOf(remoteData)
	node.PutChunk(remoteAddr, remoteData)

	tests := []struct {
		name string
		addr types.Address
		data []byte
		tier types.ChunkTier
	}{
		{"local", localAddr, localData, types.TierLocal},
		{"legacy", legacyAddr, legacyData, types.TierLegacy},
		{"remote", remoteAddr, remoteData, types.TierRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, tier, err := f.store.Fetch(ctx, tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.data, data)
			assert.Equal(t, tt.tier, tier)
		})
	}
}

func TestRemoteHitIsNotWrittenBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	node := f.fleet.Node("http://bee-1:1633")

	data := []byte("only on the network")
	addr := types.AddressOf(data)
	node.PutChunk(addr, data)

	got, err := f.store.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = f.db.GetChunk(ctx, addr)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound), "remote hit must not populate the local tier")
	ok, err := f.legacy.Exists(ctx, addr.String())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.store.Load(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int32(2), node.ChunkCalls.Load())
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Load(ctx, types.AddressOf([]byte("nowhere")))
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
}

func TestLoadWithoutRemoteTier(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := nodepooltest.NewFleet()
	pool := nodepooltest.NewPool(t, fl, memory.New(), "http://bee-1:1633")

	data := []byte("remote only")
	addr := types.AddressOf(data)
	fl.Node("http://bee-1:1633").PutChunk(addr, data)

	cfg := DefaultConfig()
	cfg.RemoteFetch = false
	s := New(db, cfg, WithNodes(pool))

	_, err := s.Load(ctx, addr)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
	assert.Zero(t, fl.Node("http://bee-1:1633").ChunkCalls.Load())
}

func TestLoadNoHealthyNode(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := nodepooltest.NewFleet()
	pool := nodepooltest.NewPool(t, fl, memory.New(), "http://bee-1:1633")
	fl.Node("http://bee-1:1633").Healthy.Store(false)
	pool.RunHeartbeatCycle(ctx)

	s := New(db, DefaultConfig(), WithNodes(pool))
	_, err := s.Load(ctx, types.AddressOf([]byte("x")))
	assert.True(t, types.IsCode(err, types.ErrCodeNodeUnavailable))
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload := []byte("same content")
	first := types.NewChunk(payload)
	second := &types.Chunk{Payload: payload}

	assert.True(t, f.store.Save(ctx, first))
	assert.True(t, f.store.Save(ctx, second))
	assert.Equal(t, first.Address, second.Address, "address is computed when absent")

	got, err := f.store.Get(ctx, first.Address)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Payload)
}

// failingChunks fails every write.
type failingChunks struct {
	store.ChunkStore
}

func (failingChunks) CreateChunk(context.Context, *types.Chunk) (bool, error) {
	return false, errors.New("disk full")
}

func TestSaveFailureReturnsFalse(t *testing.T) {
	s := New(failingChunks{memory.New()}, DefaultConfig())
	assert.False(t, s.Save(context.Background(), types.NewChunk([]byte("x"))))
	assert.False(t, s.Save(context.Background(), nil))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	local := types.NewChunk([]byte("local"))
	require.True(t, f.store.Save(ctx, local))
	legacyAddr := types.AddressOf([]byte("legacy"))
	require.NoError(t, f.legacy.Put(ctx, legacyAddr.String(), []byte("legacy")))

	assert.True(t, f.store.Delete(ctx, local.Address))
	assert.True(t, f.store.Delete(ctx, legacyAddr))
	assert.False(t, f.store.Delete(ctx, local.Address))
	assert.False(t, f.store.Delete(ctx, types.AddressOf([]byte("never"))))
	assert.Zero(t, f.legacy.Len())
}

func TestRetain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c := types.NewChunk([]byte("pinned"))
	require.NoError(t, f.store.Retain(ctx, c, "pin-1"))
	require.NoError(t, f.store.Retain(ctx, c, "pin-1"))
	require.NoError(t, f.store.Retain(ctx, c, "pin-2"))

	got, err := f.store.Get(ctx, c.Address)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pin-1", "pin-2"}, got.Pins)
}

func TestMismatchedPayloadIsNeverStored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	genuine := []byte("genuine")
	addr := types.AddressOf(genuine)
	tampered := &types.Chunk{Address: addr, Payload: []byte("tampered!!!!")}

	assert.False(t, f.store.Save(ctx, tampered))
	err := f.store.Retain(ctx, tampered, "pin-1")
	assert.True(t, types.IsCode(err, types.ErrCodeValidation))
	_, err = f.store.Get(ctx, addr)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))

	require.True(t, f.store.Save(ctx, &types.Chunk{Address: addr, Payload: genuine}))
	got, tier, err := f.store.Fetch(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.TierLocal, tier)
	assert.Equal(t, genuine, got)
}

func TestAddPin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.store.AddPin(ctx, types.AddressOf([]byte("absent")), "pin-1")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))

	c := types.NewChunk([]byte("held"))
	require.True(t, f.store.Save(ctx, c))
	require.NoError(t, f.store.AddPin(ctx, c.Address, "pin-1"))
	got, err := f.store.Get(ctx, c.Address)
	require.NoError(t, err)
	assert.Equal(t, []string{"pin-1"}, got.Pins)
}

func TestUploadQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Upload(ctx, nil)
	assert.True(t, types.IsCode(err, types.ErrCodeValidation))

	payload := make([]byte, 4096)
	addr, err := f.store.Upload(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, types.AddressOf(payload), addr)
	t.Logf("uploaded %s", humanize.Bytes(uint64(len(payload))))

	pending, err := f.store.PendingUploads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, addr, pending[0].Address)

	data, tier, err := f.store.Fetch(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.TierLocal, tier)
	assert.Len(t, data, 4096)

	ok, err := f.store.MarkPropagated(ctx, addr)
	require.NoError(t, err)
	assert.True(t, ok)
	pending, err = f.store.PendingUploads(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
