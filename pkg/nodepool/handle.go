// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package nodepool

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/beeclient"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// NodeClient is the per-node API used by the pool and its callers.
type NodeClient interface {
	Health(ctx context.Context) error
	UsableBatchIDs(ctx context.Context) ([]string, error)
	Chunk(ctx context.Context, addr types.Address) ([]byte, error)
	BatchBuckets(ctx context.Context, batchID string) (*types.BucketUsage, error)
	Endpoint() *url.URL
	Transport() http.RoundTripper
	Close()
}

var _ NodeClient = (*beeclient.Client)(nil)

// ClientFactory binds a client to a node record.
type ClientFactory func(record *types.NodeRecord) (NodeClient, error)

// BeeClientFactory builds beeclient clients with the given request timeout.
func BeeClientFactory(timeout time.Duration) ClientFactory {
	return func(record *types.NodeRecord) (NodeClient, error) {
		var opts []beeclient.Option
		if timeout > 0 {
			opts = append(opts, beeclient.WithTimeout(timeout))
		}
		return beeclient.New(record.Endpoint, opts...)
	}
}

// healthState is replaced wholesale on every probe.
type healthState struct {
	health  types.NodeHealth
	batches []string
}

// Handle is the live view of one node. The client and endpoint are fixed for
// the lifetime of the handle. The record (for updates that keep the endpoint)
// and the health are swapped atomically, so a heartbeat in flight always lands on
// the handle the pool is serving.
type Handle struct {
	record atomic.Pointer[types.NodeRecord]
	client NodeClient
	state  atomic.Pointer[healthState]
}

func newHandle(record types.NodeRecord, client NodeClient) *Handle {
	h := &Handle{client: client}
	h.record.Store(&record)
	h.state.Store(&healthState{})
	return h
}

func (h *Handle) ID() string {
	return h.record.Load().ID
}

// Record returns a copy of the current node record.
func (h *Handle) Record() types.NodeRecord {
	return *h.record.Load()
}

// setRecord replaces the record in place. The endpoint must be unchanged.
func (h *Handle) setRecord(record types.NodeRecord) {
	h.record.Store(&record)
}

func (h *Handle) Client() NodeClient {
	return h.client
}

// Endpoint is the node's base URL, for forwarding.
func (h *Handle) Endpoint() *url.URL {
	return h.client.Endpoint()
}

// Transport is the round tripper bound to the node, for forwarding.
func (h *Handle) Transport() http.RoundTripper {
	return h.client.Transport()
}

func (h *Handle) IsAlive() bool {
	return h.state.Load().health.IsAlive
}

// Health returns a copy of the latest health snapshot.
func (h *Handle) Health() types.NodeHealth {
	s := h.state.Load().health
	s.LastErrors = slices.Clone(s.LastErrors)
	return s
}

// Batches returns the postage batch ids seen on the last successful probe.
func (h *Handle) Batches() []string {
	return slices.Clone(h.state.Load().batches)
}

func (h *Handle) HasBatch(batchID string) bool {
	return slices.Contains(h.state.Load().batches, batchID)
}

func (h *Handle) markAlive(at time.Time, batches []string) {
	prev := h.state.Load()
	if batches == nil {
		batches = prev.batches
	}
	h.state.Store(&healthState{
		health: types.NodeHealth{
			IsAlive:         true,
			LastHeartbeatAt: at,
		},
		batches: batches,
	})
}

func (h *Handle) markDead(at time.Time, err error) {
	prev := h.state.Load()
	errs := append(slices.Clone(prev.health.LastErrors), at.UTC().Format(time.RFC3339)+": "+err.Error())
	if len(errs) > types.MaxNodeErrors {
		errs = errs[len(errs)-types.MaxNodeErrors:]
	}
	h.state.Store(&healthState{
		health: types.NodeHealth{
			IsAlive:         false,
			LastHeartbeatAt: prev.health.LastHeartbeatAt,
			LastErrors:      errs,
		},
		batches: prev.batches,
	})
}

// NodeStatus is a point-in-time view of a handle for listing.
type NodeStatus struct {
	Record  types.NodeRecord `json:"record"`
	Health  types.NodeHealth `json:"health"`
	Batches []string         `json:"batches,omitempty"`
}

func (h *Handle) Status() NodeStatus {
	return NodeStatus{Record: h.Record(), Health: h.Health(), Batches: h.Batches()}
}

var recordCompareOpts = cmp.Options{
	cmpopts.IgnoreFields(types.NodeRecord{}, "CreatedAt", "UpdatedAt"),
}

// sameRecord compares the fields a handle depends on, ignoring timestamps.
func sameRecord(a, b types.NodeRecord) bool {
	return cmp.Equal(a, b, recordCompareOpts...)
}
