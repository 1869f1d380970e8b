// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of store.Store.
// It is suitable for unit tests and single-process development setups.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/google/btree"
)

// DB is an in-memory store. All records are copied on the way in and out.
type DB struct {
	mu sync.RWMutex

	nodes      map[string]*types.NodeRecord
	endpoints  map[string]string // endpoint -> node id
	leases     map[string]types.ResourceLock
	chunks     map[types.Address]*types.Chunk
	pins       map[string]*types.Pin
	uploads    *btree.BTreeG[types.UploadedChunkRef]
	uploadAddr map[types.Address]time.Time
}

var _ store.Store = (*DB)(nil)

func uploadLess(a, b types.UploadedChunkRef) bool {
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Address.Compare(b.Address) < 0
}

func New() *DB {
	return &DB{
		nodes:      make(map[string]*types.NodeRecord),
		endpoints:  make(map[string]string),
		leases:     make(map[string]types.ResourceLock),
		chunks:     make(map[types.Address]*types.Chunk),
		pins:       make(map[string]*types.Pin),
		uploads:    btree.NewG(16, uploadLess),
		uploadAddr: make(map[types.Address]time.Time),
	}
}

func (d *DB) Close() error {
	return nil
}

// ============================================================================
// Nodes
// ============================================================================

func (d *DB) CreateNode(ctx context.Context, node *types.NodeRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.nodes[node.ID]; ok {
		return types.NewConflictError("node %s already exists", node.ID)
	}
	if _, ok := d.endpoints[node.Endpoint]; ok {
		return types.NewConflictError("endpoint %s already registered", node.Endpoint)
	}
	n := *node
	d.nodes[n.ID] = &n
	d.endpoints[n.Endpoint] = n.ID
	return nil
}

func (d *DB) GetNode(ctx context.Context, id string) (*types.NodeRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	if !ok {
		return nil, types.NewNotFoundError("node", id)
	}
	cp := *n
	return &cp, nil
}

func (d *DB) UpdateNode(ctx context.Context, node *types.NodeRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.nodes[node.ID]
	if !ok {
		return types.NewNotFoundError("node", node.ID)
	}
	if owner, taken := d.endpoints[node.Endpoint]; taken && owner != node.ID {
		return types.NewConflictError("endpoint %s already registered", node.Endpoint)
	}
	delete(d.endpoints, existing.Endpoint)
	n := *node
	n.CreatedAt = existing.CreatedAt
	d.nodes[n.ID] = &n
	d.endpoints[n.Endpoint] = n.ID
	return nil
}

func (d *DB) DeleteNode(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return false, nil
	}
	delete(d.endpoints, n.Endpoint)
	delete(d.nodes, id)
	return true, nil
}

func (d *DB) ListNodes(ctx context.Context) ([]*types.NodeRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*types.NodeRecord, 0, len(d.nodes))
	for _, n := range d.nodes {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ============================================================================
// Leases
// ============================================================================

func (d *DB) TryAcquire(ctx context.Context, resourceID, owner string, expiresAt, now time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.leases[resourceID]; ok && !l.Expired(now) {
		return false, nil
	}
	d.leases[resourceID] = types.ResourceLock{ResourceID: resourceID, Owner: owner, ExpiresAt: expiresAt}
	return true, nil
}

func (d *DB) Renew(ctx context.Context, resourceID, owner string, expiresAt, now time.Time) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.leases[resourceID]
	if !ok || l.Owner != owner || l.Expired(now) {
		return false, nil
	}
	l.ExpiresAt = expiresAt
	d.leases[resourceID] = l
	return true, nil
}

func (d *DB) Release(ctx context.Context, resourceID, owner string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.leases[resourceID]
	if !ok || l.Owner != owner {
		return false, nil
	}
	delete(d.leases, resourceID)
	return true, nil
}

func (d *DB) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for id, l := range d.leases {
		if l.Expired(now) {
			delete(d.leases, id)
			n++
		}
	}
	return n, nil
}

func (d *DB) GetLease(ctx context.Context, resourceID string) (*types.ResourceLock, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	l, ok := d.leases[resourceID]
	if !ok {
		return nil, types.NewNotFoundError("lease", resourceID)
	}
	return &l, nil
}

// ============================================================================
// Chunks
// ============================================================================

func copyChunk(c *types.Chunk) *types.Chunk {
	return &types.Chunk{
		Address:   c.Address,
		Payload:   slices.Clone(c.Payload),
		Pins:      slices.Clone(c.Pins),
		CreatedAt: c.CreatedAt,
	}
}

func (d *DB) GetChunk(ctx context.Context, addr types.Address) (*types.Chunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.chunks[addr]
	if !ok {
		return nil, types.NewNotFoundError("chunk", addr.String())
	}
	return copyChunk(c), nil
}

func (d *DB) CreateChunk(ctx context.Context, chunk *types.Chunk) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.chunks[chunk.Address]; ok {
		return false, nil
	}
	c := copyChunk(chunk)
	c.Pins = nil
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	d.chunks[c.Address] = c
	return true, nil
}

func (d *DB) DeleteChunk(ctx context.Context, addr types.Address) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.chunks[addr]; !ok {
		return false, nil
	}
	delete(d.chunks, addr)
	return true, nil
}

func (d *DB) AddChunkPin(ctx context.Context, addr types.Address, pinID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.chunks[addr]
	if !ok {
		return types.NewNotFoundError("chunk", addr.String())
	}
	c.AddPin(pinID)
	return nil
}

// ============================================================================
// Pins
// ============================================================================

func copyPin(p *types.Pin) *types.Pin {
	cp := *p
	cp.Missing = slices.Clone(p.Missing)
	return &cp
}

func (d *DB) CreatePin(ctx context.Context, pin *types.Pin) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pins[pin.ID]; ok {
		return types.NewConflictError("pin %s already exists", pin.ID)
	}
	d.pins[pin.ID] = copyPin(pin)
	return nil
}

func (d *DB) GetPin(ctx context.Context, id string) (*types.Pin, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.pins[id]
	if !ok {
		return nil, types.NewNotFoundError("pin", id)
	}
	return copyPin(p), nil
}

func (d *DB) ListPins(ctx context.Context, state types.PinState, limit int) ([]*types.Pin, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*types.Pin
	for _, p := range d.pins {
		if state == "" || p.State == state {
			out = append(out, copyPin(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *DB) FinishPinRun(ctx context.Context, id string, result types.PinResult, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pins[id]
	if !ok {
		return types.NewNotFoundError("pin", id)
	}
	p.State = result.State
	p.Missing = slices.Clone(result.Missing)
	p.PinnedCount = result.PinnedCount
	p.InvalidCount = result.InvalidCount
	p.Attempts++
	p.UpdatedAt = now
	return nil
}

// ============================================================================
// Uploads
// ============================================================================

func (d *DB) EnqueueUpload(ctx context.Context, ref types.UploadedChunkRef) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.uploadAddr[ref.Address]; ok {
		return false, nil
	}
	d.uploadAddr[ref.Address] = ref.EnqueuedAt
	d.uploads.ReplaceOrInsert(ref)
	return true, nil
}

func (d *DB) ListUploads(ctx context.Context, limit int) ([]types.UploadedChunkRef, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []types.UploadedChunkRef
	d.uploads.Ascend(func(ref types.UploadedChunkRef) bool {
		out = append(out, ref)
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

func (d *DB) RemoveUpload(ctx context.Context, addr types.Address) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	at, ok := d.uploadAddr[addr]
	if !ok {
		return false, nil
	}
	delete(d.uploadAddr, addr)
	d.uploads.Delete(types.UploadedChunkRef{Address: addr, EnqueuedAt: at})
	return true, nil
}
