// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package nodepooltest provides in-process Bee nodes for tests.
package nodepooltest

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/store/memory"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/stretchr/testify/require"
)

// Node is a scriptable nodepool.NodeClient.
type Node struct {
	endpoint *url.URL

	Healthy atomic.Bool

	mu      sync.Mutex
	chunks  map[types.Address][]byte
	batches []string
	buckets map[string]*types.BucketUsage

	ChunkCalls  atomic.Int32
	BucketCalls atomic.Int32
}

func (n *Node) Health(context.Context) error {
	if !n.Healthy.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func (n *Node) UsableBatchIDs(context.Context) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.batches...), nil
}

func (n *Node) Chunk(_ context.Context, addr types.Address) ([]byte, error) {
	n.ChunkCalls.Add(1)
	n.mu.Lock()
	defer n.mu.Unlock()
	data, ok := n.chunks[addr]
	if !ok {
		return nil, types.NewNotFoundError("chunk", addr.String())
	}
	return append([]byte(nil), data...), nil
}

func (n *Node) BatchBuckets(_ context.Context, batchID string) (*types.BucketUsage, error) {
	n.BucketCalls.Add(1)
	n.mu.Lock()
	defer n.mu.Unlock()
	u, ok := n.buckets[batchID]
	if !ok {
		return nil, types.NewNotFoundError("batch", batchID)
	}
	cp := *u
	cp.Buckets = append([]uint32(nil), u.Buckets...)
	return &cp, nil
}

func (n *Node) Endpoint() *url.URL {
	u := *n.endpoint
	return &u
}

func (n *Node) Transport() http.RoundTripper { return http.DefaultTransport }
func (n *Node) Close()                       {}

// PutChunk makes addr retrievable from the node.
func (n *Node) PutChunk(addr types.Address, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chunks[addr] = data
}

// SetBatches replaces the usable batches the node reports.
func (n *Node) SetBatches(ids ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = ids
}

// SetBuckets sets the bucket usage the node reports for a batch.
func (n *Node) SetBuckets(u *types.BucketUsage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buckets[u.BatchID] = u
}

// Fleet hands out Nodes keyed by endpoint.
type Fleet struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

func NewFleet() *Fleet {
	return &Fleet{nodes: map[string]*Node{}}
}

// Node returns the node for endpoint, creating it unhealthy on first use.
func (f *Fleet) Node(endpoint string) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[endpoint]
	if !ok {
		u, _ := url.Parse(endpoint)
		n = &Node{
			endpoint: u,
			chunks:   map[types.Address][]byte{},
			buckets:  map[string]*types.BucketUsage{},
		}
		f.nodes[endpoint] = n
	}
	return n
}

func (f *Fleet) Factory(rec *types.NodeRecord) (nodepool.NodeClient, error) {
	return f.Node(rec.Endpoint), nil
}

// NewPool registers one healthy node per endpoint in db, loads the pool and
// runs a heartbeat cycle so every node is selectable.
func NewPool(t testing.TB, f *Fleet, db *memory.DB, endpoints ...string) *nodepool.Pool {
	t.Helper()
	ctx := context.Background()
	for i, ep := range endpoints {
		f.Node(ep).Healthy.Store(true)
		rec := &types.NodeRecord{ID: string(rune('a' + i)), Endpoint: ep}
		require.NoError(t, db.CreateNode(ctx, rec))
	}
	p := nodepool.New(db, nodepool.DefaultConfig(), nodepool.WithClientFactory(f.Factory))
	t.Cleanup(p.Close)
	require.NoError(t, p.LoadAll(ctx))
	p.RunHeartbeatCycle(ctx)
	return p
}
