// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package nodepool

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/events"
	"github.com/LeeDigitalWorks/beegate/pkg/store/memory"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeNode is a scriptable NodeClient.
type fakeNode struct {
	endpoint *url.URL
	healthy  atomic.Bool
	hang     atomic.Bool
	batches  []string
	closed   atomic.Bool

	inflight *atomic.Int32
	peak     *atomic.Int32
}

func (f *fakeNode) Health(ctx context.Context) error {
	if f.inflight != nil {
		n := f.inflight.Add(1)
		defer f.inflight.Add(-1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if f.hang.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if !f.healthy.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeNode) UsableBatchIDs(context.Context) ([]string, error) { return f.batches, nil }
func (f *fakeNode) Chunk(context.Context, types.Address) ([]byte, error) {
	return nil, types.NewNotFoundError("chunk", "")
}
func (f *fakeNode) BatchBuckets(context.Context, string) (*types.BucketUsage, error) {
	return nil, types.NewNotFoundError("batch", "")
}
func (f *fakeNode) Endpoint() *url.URL           { return f.endpoint }
func (f *fakeNode) Transport() http.RoundTripper { return http.DefaultTransport }
func (f *fakeNode) Close()                       { f.closed.Store(true) }

// fleet hands out fakeNodes keyed by endpoint.
type fleet struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode
}

func newFleet() *fleet {
	return &fleet{nodes: map[string]*fakeNode{}}
}

func (fl *fleet) node(endpoint string) *fakeNode {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	n, ok := fl.nodes[endpoint]
	if !ok {
		u, _ := url.Parse(endpoint)
		n = &fakeNode{endpoint: u}
		fl.nodes[endpoint] = n
	}
	return n
}

func (fl *fleet) factory(rec *types.NodeRecord) (NodeClient, error) {
	return fl.node(rec.Endpoint), nil
}

func seed(t *testing.T, db *memory.DB, id, endpoint string) *types.NodeRecord {
	t.Helper()
	rec := &types.NodeRecord{ID: id, Endpoint: endpoint}
	require.NoError(t, db.CreateNode(context.Background(), rec))
	return rec
}

func newTestPool(t *testing.T, fl *fleet, db *memory.DB) *Pool {
	t.Helper()
	p := New(db, Config{ProbeTimeout: time.Second, ProbeConcurrency: 2}, WithClientFactory(fl.factory))
	t.Cleanup(p.Close)
	return p
}

func TestSelectOnlyHealthyAndRecovery(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	seed(t, db, "a", "http://a:1633")
	seed(t, db, "b", "http://b:1633")
	fl.node("http://a:1633").healthy.Store(true)

	p := newTestPool(t, fl, db)
	require.NoError(t, p.LoadAll(ctx))
	p.RunHeartbeatCycle(ctx)

	for range 50 {
		h, err := p.SelectHealthy(ctx, ModeRandom)
		require.NoError(t, err)
		assert.Equal(t, "a", h.ID())
	}

	hb, _ := p.Get("b")
	assert.False(t, hb.IsAlive())
	assert.Len(t, hb.Health().LastErrors, 1)

	fl.node("http://b:1633").healthy.Store(true)
	p.RunHeartbeatCycle(ctx)

	seen := map[string]bool{}
	for range 10 {
		h, err := p.SelectHealthy(ctx, ModeRoundRobin)
		require.NoError(t, err)
		seen[h.ID()] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
	assert.Empty(t, hb.Health().LastErrors)
	assert.False(t, hb.Health().LastHeartbeatAt.IsZero())
}

func TestSelectNoHealthyNode(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	seed(t, db, "a", "http://a:1633")

	p := newTestPool(t, fl, db)
	require.NoError(t, p.LoadAll(ctx))
	p.RunHeartbeatCycle(ctx)

	_, err := p.SelectHealthy(ctx, ModeRandom)
	assert.True(t, types.IsCode(err, types.ErrCodeNodeUnavailable))

	h, ok := p.TrySelectHealthy(ctx, ModeRandom)
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestRemoveMakesNodeUnselectable(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	rec := seed(t, db, "a", "http://a:1633")
	fl.node(rec.Endpoint).healthy.Store(true)

	p := newTestPool(t, fl, db)
	require.NoError(t, p.LoadAll(ctx))
	p.RunHeartbeatCycle(ctx)
	_, err := p.SelectHealthy(ctx, ModeRandom)
	require.NoError(t, err)

	require.NoError(t, p.HandleNodeEvent(ctx, events.NodeEvent{Kind: events.NodeDeleted, Node: *rec}))
	_, ok := p.TrySelectHealthy(ctx, ModeRandom)
	assert.False(t, ok)
	assert.True(t, fl.node(rec.Endpoint).closed.Load())

	// Duplicate delivery is harmless.
	require.NoError(t, p.HandleNodeEvent(ctx, events.NodeEvent{Kind: events.NodeDeleted, Node: *rec}))
	assert.Equal(t, 0, p.Len())
}

func TestAddNodeIdempotentAndEndpointChange(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	p := newTestPool(t, fl, db)
	require.NoError(t, p.LoadAll(ctx))

	rec := types.NodeRecord{ID: "a", Endpoint: "http://a:1633"}
	fl.node(rec.Endpoint).healthy.Store(true)
	require.NoError(t, p.AddNode(&rec))
	require.NoError(t, p.AddNode(&rec))
	assert.Equal(t, 1, p.Len())

	p.RunHeartbeatCycle(ctx)
	h1, _ := p.Get("a")
	require.True(t, h1.IsAlive())

	// Flag change keeps health.
	rec.BatchCreationEnabled = true
	require.NoError(t, p.AddNode(&rec))
	h2, _ := p.Get("a")
	assert.True(t, h2.IsAlive())
	_, err := p.SelectHealthy(ctx, ModeRandom, WithBatchCreation())
	require.NoError(t, err)

	// Endpoint change starts over until probed.
	rec.Endpoint = "http://a2:1633"
	require.NoError(t, p.AddNode(&rec))
	h3, _ := p.Get("a")
	assert.False(t, h3.IsAlive())
	assert.True(t, fl.node("http://a:1633").closed.Load())
	assert.Equal(t, 1, p.Len())
}

func TestSelectBlocksUntilLoaded(t *testing.T) {
	db := memory.New()
	fl := newFleet()
	p := newTestPool(t, fl, db)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.SelectHealthy(ctx, ModeRandom)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, p.IsLoaded())

	require.NoError(t, p.LoadAll(context.Background()))
	assert.True(t, p.IsLoaded())
}

func TestBatchFilter(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	seed(t, db, "a", "http://a:1633")
	seed(t, db, "b", "http://b:1633")
	fl.node("http://a:1633").healthy.Store(true)
	fl.node("http://b:1633").healthy.Store(true)
	fl.node("http://b:1633").batches = []string{"beef"}

	p := newTestPool(t, fl, db)
	require.NoError(t, p.LoadAll(ctx))
	p.RunHeartbeatCycle(ctx)

	for range 10 {
		h, err := p.SelectHealthy(ctx, ModeRandom, WithBatch("BEEF"))
		require.NoError(t, err)
		assert.Equal(t, "b", h.ID())
	}
	_, err := p.SelectHealthy(ctx, ModeRandom, WithBatch("cafe"))
	assert.True(t, types.IsCode(err, types.ErrCodeNodeUnavailable))
}

func TestHeartbeatBoundedConcurrency(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		db := memory.New()
		fl := newFleet()
		var inflight, peak atomic.Int32
		for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
			ep := "http://" + id + ":1633"
			seed(t, db, id, ep)
			n := fl.node(ep)
			n.healthy.Store(true)
			n.inflight, n.peak = &inflight, &peak
		}

		p := New(db, Config{ProbeConcurrency: 2, ProbeTimeout: time.Second}, WithClientFactory(fl.factory))
		defer p.Close()
		require.NoError(t, p.LoadAll(ctx))
		p.RunHeartbeatCycle(ctx)

		assert.LessOrEqual(t, peak.Load(), int32(2))
		assert.Equal(t, int32(2), peak.Load())
	})
}

func TestHeartbeatProbeTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		db := memory.New()
		fl := newFleet()
		seed(t, db, "slow", "http://slow:1633")
		seed(t, db, "fast", "http://fast:1633")
		fl.node("http://slow:1633").hang.Store(true)
		fl.node("http://fast:1633").healthy.Store(true)

		p := New(db, Config{ProbeConcurrency: 1, ProbeTimeout: 2 * time.Second}, WithClientFactory(fl.factory))
		defer p.Close()
		require.NoError(t, p.LoadAll(ctx))

		start := time.Now()
		p.RunHeartbeatCycle(ctx)
		assert.Equal(t, 2*time.Second, time.Since(start))

		slow, _ := p.Get("slow")
		fast, _ := p.Get("fast")
		assert.False(t, slow.IsAlive())
		assert.True(t, fast.IsAlive())
	})
}

func TestStartHeartbeatRecurring(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		db := memory.New()
		fl := newFleet()
		seed(t, db, "a", "http://a:1633")

		p := New(db, Config{}, WithClientFactory(fl.factory))
		defer p.Close()
		require.NoError(t, p.LoadAll(ctx))

		p.StartHeartbeat(ctx, time.Minute)
		p.StartHeartbeat(ctx, time.Minute)
		synctest.Wait()

		h, _ := p.Get("a")
		assert.False(t, h.IsAlive())

		fl.node("http://a:1633").healthy.Store(true)
		time.Sleep(2 * time.Minute)
		synctest.Wait()
		assert.True(t, h.IsAlive())

		p.StopHeartbeat()
	})
}

func TestLoadAllResync(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	seed(t, db, "a", "http://a:1633")
	seed(t, db, "b", "http://b:1633")
	fl.node("http://a:1633").healthy.Store(true)

	p := newTestPool(t, fl, db)
	require.NoError(t, p.LoadAll(ctx))
	p.RunHeartbeatCycle(ctx)

	_, err := db.DeleteNode(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, p.LoadAll(ctx))

	assert.Equal(t, 1, p.Len())
	h, _ := p.Get("a")
	assert.True(t, h.IsAlive(), "unchanged node keeps its health across resync")
	assert.True(t, fl.node("http://b:1633").closed.Load())

	status := p.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "a", status[0].Record.ID)
}

func TestUpdateKeepsHandleForInflightHeartbeat(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	rec := seed(t, db, "a", "http://a:1633")
	fl.node(rec.Endpoint).healthy.Store(true)

	p := newTestPool(t, fl, db)
	require.NoError(t, p.LoadAll(ctx))
	p.RunHeartbeatCycle(ctx)

	// A heartbeat cycle that loaded the snapshot before the update.
	held := p.Nodes()[0]

	updated := *rec
	updated.BatchCreationEnabled = true
	require.NoError(t, p.HandleNodeEvent(ctx, events.NodeEvent{Kind: events.NodeUpdated, Node: updated}))

	h, ok := p.Get("a")
	require.True(t, ok)
	assert.Same(t, held, h)
	assert.True(t, h.Record().BatchCreationEnabled)
	assert.False(t, fl.node(rec.Endpoint).closed.Load())

	held.markDead(time.Now(), errors.New("connection refused"))
	_, ok = p.TrySelectHealthy(ctx, ModeRandom)
	assert.False(t, ok, "result of the held heartbeat reaches the served handle")
}

// racingNodes removes a node from the store and the pool right after the
// first listing was taken, as a registry event would.
type racingNodes struct {
	*memory.DB
	once   sync.Once
	lists  atomic.Int32
	remove func()
}

func (r *racingNodes) ListNodes(ctx context.Context) ([]*types.NodeRecord, error) {
	r.lists.Add(1)
	records, err := r.DB.ListNodes(ctx)
	r.once.Do(r.remove)
	return records, err
}

func TestLoadAllDoesNotResurrectRemovedNode(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	fl := newFleet()
	seed(t, db, "a", "http://a:1633")
	seed(t, db, "b", "http://b:1633")

	nodes := &racingNodes{DB: db}
	p := New(nodes, Config{ProbeTimeout: time.Second}, WithClientFactory(fl.factory))
	t.Cleanup(p.Close)
	nodes.remove = func() {
		_, err := db.DeleteNode(ctx, "b")
		require.NoError(t, err)
		p.RemoveNode("b")
	}

	require.NoError(t, p.LoadAll(ctx))
	_, ok := p.Get("b")
	assert.False(t, ok)
	_, ok = p.Get("a")
	assert.True(t, ok)
	assert.Equal(t, int32(2), nodes.lists.Load(), "the raced listing is discarded")
}

func TestMarkDeadBoundsErrors(t *testing.T) {
	t.Parallel()

	h := newHandle(types.NodeRecord{ID: "a"}, &fakeNode{})
	for range types.MaxNodeErrors + 5 {
		h.markDead(time.Now(), errors.New("down"))
	}
	assert.Len(t, h.Health().LastErrors, types.MaxNodeErrors)
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	m, err := ParseMode("round_robin")
	require.NoError(t, err)
	assert.Equal(t, ModeRoundRobin, m)
	_, err = ParseMode("weighted")
	assert.True(t, types.IsCode(err, types.ErrCodeValidation))
}

func TestSameRecordIgnoresTimestamps(t *testing.T) {
	a := types.NodeRecord{ID: "n1", Endpoint: "http://bee-1:1633", CreatedAt: time.Unix(1, 0)}
	b := a
	b.UpdatedAt = time.Now()
	assert.True(t, sameRecord(a, b))

	b.BatchCreationEnabled = true
	assert.False(t, sameRecord(a, b))
}
