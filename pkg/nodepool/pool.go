// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package nodepool keeps the in-process view of the Bee node fleet: one
// live handle per registered node, continuously health probed, and a
// fail-fast selection API used by every request path.
//
// Readers never lock. The handle set is an immutable snapshot swapped with
// an atomic pointer by the (rare) writers, and each handle's health is its
// own atomic pointer updated by the heartbeat.
package nodepool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/events"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// Config controls heartbeat behaviour.
type Config struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ProbeConcurrency  int           `mapstructure:"probe_concurrency"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	ClientTimeout     time.Duration `mapstructure:"client_timeout"`
}

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultProbeConcurrency  = 8
	DefaultProbeTimeout      = 5 * time.Second
	DefaultClientTimeout     = 30 * time.Second
)

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: DefaultHeartbeatInterval,
		ProbeConcurrency:  DefaultProbeConcurrency,
		ProbeTimeout:      DefaultProbeTimeout,
		ClientTimeout:     DefaultClientTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = DefaultProbeConcurrency
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ClientTimeout <= 0 {
		c.ClientTimeout = DefaultClientTimeout
	}
}

// snapshot is never mutated after it is published.
type snapshot struct {
	handles []*Handle
	byID    map[string]*Handle
}

var emptySnapshot = &snapshot{byID: map[string]*Handle{}}

func (s *snapshot) with(h *Handle) *snapshot {
	next := &snapshot{
		handles: make([]*Handle, 0, len(s.handles)+1),
		byID:    make(map[string]*Handle, len(s.byID)+1),
	}
	for _, old := range s.handles {
		if old.ID() != h.ID() {
			next.handles = append(next.handles, old)
			next.byID[old.ID()] = old
		}
	}
	next.handles = append(next.handles, h)
	next.byID[h.ID()] = h
	return next
}

func (s *snapshot) without(id string) *snapshot {
	next := &snapshot{
		handles: make([]*Handle, 0, len(s.handles)),
		byID:    make(map[string]*Handle, len(s.byID)),
	}
	for _, old := range s.handles {
		if old.ID() != id {
			next.handles = append(next.handles, old)
			next.byID[old.ID()] = old
		}
	}
	return next
}

// Pool is the live node pool. Create with New; the zero value is not usable.
type Pool struct {
	nodes   store.NodeStore
	factory ClientFactory
	cfg     Config
	now     func() time.Time

	snap atomic.Pointer[snapshot]

	// writeMu serializes snapshot writers.
	writeMu sync.Mutex
	// gen counts AddNode and RemoveNode changes; guarded by writeMu.
	gen uint64

	loaded     chan struct{}
	loadedOnce sync.Once

	rr atomic.Uint64

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// Option configures a Pool.
type Option func(*Pool)

func WithClientFactory(f ClientFactory) Option {
	return func(p *Pool) {
		p.factory = f
	}
}

// WithClock overrides the time source used for heartbeat timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

func New(nodes store.NodeStore, cfg Config, opts ...Option) *Pool {
	cfg.applyDefaults()
	p := &Pool{
		nodes:  nodes,
		cfg:    cfg,
		now:    time.Now,
		loaded: make(chan struct{}),
	}
	p.factory = BeeClientFactory(cfg.ClientTimeout)
	for _, opt := range opts {
		opt(p)
	}
	p.snap.Store(emptySnapshot)
	return p
}

// loadAttempts bounds how often LoadAll lists without the write lock before
// it lists while holding it.
const loadAttempts = 3

// LoadAll populates the pool from the node store. Selection blocks until the
// first successful LoadAll. Calling it again resynchronizes: handles whose
// endpoint is unchanged keep their client and health, others are rebuilt or
// evicted.
func (p *Pool) LoadAll(ctx context.Context) error {
	records, err := p.listLocked(ctx)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}

	cur := p.snap.Load()
	next := &snapshot{byID: make(map[string]*Handle, len(records))}
	var stale []*Handle
	for _, rec := range records {
		if old, ok := cur.byID[rec.ID]; ok && old.Record().Endpoint == rec.Endpoint {
			if !sameRecord(old.Record(), *rec) {
				old.setRecord(*rec)
			}
			next.handles = append(next.handles, old)
			next.byID[rec.ID] = old
			continue
		}
		h, err := p.newHandle(rec)
		if err != nil {
			logger.Warn().Err(err).Str("node_id", rec.ID).Str("endpoint", rec.Endpoint).
				Msg("nodepool: skipping node with unusable endpoint")
			continue
		}
		next.handles = append(next.handles, h)
		next.byID[rec.ID] = h
	}
	for _, old := range cur.handles {
		if next.byID[old.ID()] != old {
			stale = append(stale, old)
		}
	}
	p.snap.Store(next)
	p.writeMu.Unlock()

	for _, h := range stale {
		h.client.Close()
	}
	p.updateGauges()
	p.loadedOnce.Do(func() { close(p.loaded) })

	logger.Info().Int("nodes", len(next.handles)).Msg("nodepool: loaded nodes")
	return nil
}

// listLocked lists the node store and returns with writeMu held. A listing
// that raced with AddNode or RemoveNode is discarded, so a node removed while
// the list was in flight is never brought back.
func (p *Pool) listLocked(ctx context.Context) ([]*types.NodeRecord, error) {
	for range loadAttempts {
		p.writeMu.Lock()
		gen := p.gen
		p.writeMu.Unlock()

		records, err := p.nodes.ListNodes(ctx)
		if err != nil {
			return nil, err
		}
		p.writeMu.Lock()
		if p.gen == gen {
			return records, nil
		}
		p.writeMu.Unlock()
	}

	p.writeMu.Lock()
	records, err := p.nodes.ListNodes(ctx)
	if err != nil {
		p.writeMu.Unlock()
		return nil, err
	}
	return records, nil
}

// Loaded is closed once LoadAll has completed.
func (p *Pool) Loaded() <-chan struct{} {
	return p.loaded
}

func (p *Pool) IsLoaded() bool {
	select {
	case <-p.loaded:
		return true
	default:
		return false
	}
}

func (p *Pool) newHandle(rec *types.NodeRecord) (*Handle, error) {
	client, err := p.factory(rec)
	if err != nil {
		return nil, err
	}
	return newHandle(*rec, client), nil
}

// AddNode inserts or refreshes the handle for rec. A record identical to the
// current one is a no-op. A changed endpoint gets a fresh handle that starts
// unhealthy until probed; other changes update the existing handle in place.
func (p *Pool) AddNode(rec *types.NodeRecord) error {
	p.writeMu.Lock()
	cur := p.snap.Load()
	old, exists := cur.byID[rec.ID]
	if exists && sameRecord(old.Record(), *rec) {
		p.writeMu.Unlock()
		return nil
	}

	if exists && old.Record().Endpoint == rec.Endpoint {
		old.setRecord(*rec)
		p.gen++
		p.writeMu.Unlock()
		logger.Debug().Str("node_id", rec.ID).Msg("nodepool: node updated")
		return nil
	}

	h, err := p.newHandle(rec)
	if err != nil {
		p.writeMu.Unlock()
		return err
	}
	p.snap.Store(cur.with(h))
	p.gen++
	p.writeMu.Unlock()

	if exists {
		old.client.Close()
	}
	p.updateGauges()
	logger.Debug().Str("node_id", rec.ID).Str("endpoint", rec.Endpoint).Msg("nodepool: node added")
	return nil
}

// RemoveNode evicts a node. It reports whether the node was present.
func (p *Pool) RemoveNode(id string) bool {
	p.writeMu.Lock()
	cur := p.snap.Load()
	old, ok := cur.byID[id]
	if ok {
		p.snap.Store(cur.without(id))
	}
	p.gen++
	p.writeMu.Unlock()

	if !ok {
		return false
	}
	old.client.Close()
	p.updateGauges()
	logger.Debug().Str("node_id", id).Msg("nodepool: node removed")
	return true
}

// HandleNodeEvent keeps the pool in sync with registry lifecycle events.
func (p *Pool) HandleNodeEvent(_ context.Context, ev events.NodeEvent) error {
	switch ev.Kind {
	case events.NodeCreated, events.NodeUpdated:
		node := ev.Node
		return p.AddNode(&node)
	case events.NodeDeleted:
		p.RemoveNode(ev.Node.ID)
	}
	return nil
}

// Get returns the handle for id.
func (p *Pool) Get(id string) (*Handle, bool) {
	h, ok := p.snap.Load().byID[id]
	return h, ok
}

// Nodes returns the current handles.
func (p *Pool) Nodes() []*Handle {
	return p.snap.Load().handles
}

// Len returns the number of known nodes.
func (p *Pool) Len() int {
	return len(p.snap.Load().handles)
}

// Status lists every node with its health, ordered by id.
func (p *Pool) Status() []NodeStatus {
	handles := p.snap.Load().handles
	out := make([]NodeStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.ID < out[j].Record.ID })
	return out
}

func (p *Pool) updateGauges() {
	handles := p.snap.Load().handles
	healthy := 0
	for _, h := range handles {
		if h.IsAlive() {
			healthy++
		}
	}
	NodesTotal.Set(float64(len(handles)))
	NodesHealthy.Set(float64(healthy))
}

// Close stops the heartbeat and releases every client.
func (p *Pool) Close() {
	p.StopHeartbeat()

	p.writeMu.Lock()
	cur := p.snap.Load()
	p.snap.Store(emptySnapshot)
	p.writeMu.Unlock()

	for _, h := range cur.handles {
		h.client.Close()
	}
}
