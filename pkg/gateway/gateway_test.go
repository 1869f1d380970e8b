// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/debug"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool/nodepooltest"
	"github.com/LeeDigitalWorks/beegate/pkg/pin"
	"github.com/LeeDigitalWorks/beegate/pkg/registry"
	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const beeEndpoint = "http://bee-1:1633"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Chunks.RemoteFetchRPS = 0
	cfg.Tasks.PollInterval = 10 * time.Millisecond
	cfg.Tasks.PendingScanInterval = 0
	cfg.Tasks.LockSweepInterval = 0
	cfg.Tasks.CleanupInterval = 0
	cfg.Tasks.StatsInterval = 0
	cfg.Tasks.NodeResyncInterval = 0
	cfg.Nodes.HeartbeatInterval = time.Hour
	return cfg
}

func newGateway(t *testing.T, cfg Config, opts ...Option) (*Gateway, *nodepooltest.Fleet) {
	t.Helper()
	fleet := nodepooltest.NewFleet()
	g, err := New(context.Background(), cfg, append(opts, WithClientFactory(fleet.Factory))...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, g.Close()) })
	return g, fleet
}

func registerNode(t *testing.T, g *Gateway, fleet *nodepooltest.Fleet) (*types.NodeRecord, *nodepooltest.Node) {
	t.Helper()
	ctx := context.Background()
	node := fleet.Node(beeEndpoint)
	node.Healthy.Store(true)
	rec, err := g.Registry().Register(ctx, registry.NodeSpec{Endpoint: beeEndpoint})
	require.NoError(t, err)
	g.Pool().RunHeartbeatCycle(ctx)
	return rec, node
}

// putFile stores a two-leaf file on node and returns its root.
func putFile(node *nodepooltest.Node) types.Address {
	leaf1 := pin.LeafChunk([]byte("first leaf"))
	leaf2 := pin.LeafChunk([]byte("second leaf"))
	root := pin.IntermediateChunk(2*pin.MaxChunkData, types.AddressOf(leaf1), types.AddressOf(leaf2))
	for _, c := range [][]byte{leaf1, leaf2, root} {
		node.PutChunk(types.AddressOf(c), c)
	}
	return types.AddressOf(root)
}

func waitForState(t *testing.T, g *Gateway, pinID string, state types.PinState) *types.Pin {
	t.Helper()
	var got *types.Pin
	require.Eventually(t, func() bool {
		p, err := g.Pins().Get(context.Background(), pinID)
		if err != nil {
			return false
		}
		got = p
		return p.State == state
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestGatewayRegistryDrivesPool(t *testing.T) {
	ctx := context.Background()
	g, fleet := newGateway(t, testConfig())
	require.NoError(t, g.Start(ctx))

	rec, _ := registerNode(t, g, fleet)
	h, ok := g.Pool().Get(rec.ID)
	require.True(t, ok)
	assert.True(t, h.IsAlive())

	require.NoError(t, g.Registry().Remove(ctx, rec.ID))
	_, ok = g.Pool().Get(rec.ID)
	assert.False(t, ok, "removed nodes leave the pool before Remove returns")
	_, ok = g.Pool().TrySelectHealthy(ctx, nodepool.ModeRandom)
	assert.False(t, ok)
}

func TestGatewaySubmitPinReconcilesInBackground(t *testing.T) {
	ctx := context.Background()
	g, fleet := newGateway(t, testConfig())
	require.NoError(t, g.Start(ctx))
	_, node := registerNode(t, g, fleet)
	root := putFile(node)

	p, err := g.SubmitPin(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, types.PinPending, p.State)

	done := waitForState(t, g, p.ID, types.PinSucceeded)
	assert.Equal(t, 3, done.PinnedCount)
	assert.Empty(t, done.Missing)

	// Every reachable chunk is now retained locally with a back-reference
	chunk, err := g.Chunks().Get(ctx, root)
	require.NoError(t, err)
	assert.Contains(t, chunk.Pins, p.ID)
}

func TestGatewayPendingScanRetriesIncompletePins(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Tasks.PendingScanInterval = 20 * time.Millisecond
	g, fleet := newGateway(t, cfg)
	require.NoError(t, g.Start(ctx))
	_, node := registerNode(t, g, fleet)

	leaf := pin.LeafChunk([]byte("late leaf"))
	root := pin.IntermediateChunk(pin.MaxChunkData+1, types.AddressOf(leaf))
	node.PutChunk(types.AddressOf(root), root)

	p, err := g.SubmitPin(ctx, types.AddressOf(root))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := g.Pins().Get(ctx, p.ID)
		return err == nil && got.Attempts >= 1
	}, 5*time.Second, 10*time.Millisecond)

	got, err := g.Pins().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PinPending, got.State)
	assert.Equal(t, []types.Address{types.AddressOf(leaf)}, got.Missing)

	// The leaf shows up; a later scan finishes the pin
	node.PutChunk(types.AddressOf(leaf), leaf)
	done := waitForState(t, g, p.ID, types.PinSucceeded)
	assert.Equal(t, 2, done.PinnedCount)
}

func TestScanPendingDeduplicates(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, testConfig())

	for i := range 3 {
		_, err := g.Pins().CreatePin(ctx, types.AddressOf([]byte{byte(i)}))
		require.NoError(t, err)
	}
	n, err := g.ScanPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = g.ScanPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "pins with a queued task are skipped")

	require.NoError(t, g.ScheduleLockSweep(ctx))
	require.NoError(t, g.ScheduleLockSweep(ctx))
	stats, err := g.Queue().Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.ByType[taskqueue.TaskTypePinReconcile])
	assert.Equal(t, int64(1), stats.ByType[taskqueue.TaskTypeLockSweep])
}

func TestGatewayRedisLocks(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := testConfig()
	cfg.Locks.Backend = LocksRedis
	g, _ := newGateway(t, cfg, WithRedisClient(client))

	h, err := g.Locker().Acquire(ctx, pin.LockID("p1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("beegate:lock:pin:p1"))

	_, err = g.Pins().Reconcile(ctx, "p1")
	assert.True(t, types.IsCode(err, types.ErrCodeLockConflict), "a held pin lock blocks reconciliation: %v", err)
	require.NoError(t, h.Release(ctx))
}

func TestGatewayLegacyAndLevelDBTiers(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.ChunkDir = t.TempDir()
	cfg.Legacy.Type = "memory"
	g, _ := newGateway(t, cfg)

	addr, err := g.Chunks().Upload(ctx, []byte("local chunk"))
	require.NoError(t, err)
	payload, tier, err := g.Chunks().Fetch(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.TierLocal, tier)
	assert.Equal(t, []byte("local chunk"), payload)

	pending, err := g.Chunks().PendingUploads(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, addr, pending[0].Address)

	old := []byte("migrated from the old gateway")
	oldAddr := types.AddressOf(old)
	require.NoError(t, g.legacy.Put(ctx, oldAddr.String(), old))
	payload, tier, err = g.Chunks().Fetch(ctx, oldAddr)
	require.NoError(t, err)
	assert.Equal(t, types.TierLegacy, tier)
	assert.Equal(t, old, payload)
}

func TestDebugHandlers(t *testing.T) {
	ctx := context.Background()
	g, fleet := newGateway(t, testConfig())
	require.NoError(t, g.Start(ctx))
	registerNode(t, g, fleet)
	g.RegisterDebugHandlers()
	debug.SetReady()
	t.Cleanup(debug.SetNotReady)
	mux := debug.GetMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "ready once the fleet is loaded")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/nodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var nodes struct {
		Loaded bool `json:"loaded"`
		Count  int  `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&nodes))
	assert.True(t, nodes.Loaded)
	assert.Equal(t, 1, nodes.Count)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pins/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	p, err := g.Pins().CreatePin(ctx, types.AddressOf([]byte("root")))
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pins/"+p.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view PinView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, p.Reference, view.Reference)
	assert.Equal(t, types.PinPending, view.State)
}

func TestCloseIsIdempotent(t *testing.T) {
	g, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}
