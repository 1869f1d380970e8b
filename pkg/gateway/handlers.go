// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/debug"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// PinView is the JSON form of a pin.
type PinView struct {
	ID           string          `json:"id"`
	Reference    types.Address   `json:"reference"`
	State        types.PinState  `json:"state"`
	Missing      []types.Address `json:"missing,omitempty"`
	PinnedCount  int             `json:"pinned_count"`
	InvalidCount int             `json:"invalid_count"`
	Attempts     int             `json:"attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func NewPinView(p *types.Pin) PinView {
	return PinView{
		ID:           p.ID,
		Reference:    p.Reference,
		State:        p.State,
		Missing:      p.Missing,
		PinnedCount:  p.PinnedCount,
		InvalidCount: p.InvalidCount,
		Attempts:     p.Attempts,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// Handler returns the client-facing handler, which forwards everything to
// the fleet.
func (g *Gateway) Handler() http.Handler {
	return NewProxy(g.pool, g.buckets, nodepool.ModeRandom)
}

// RegisterDebugHandlers exposes operator views and node administration on
// the debug server. Call before debug.GetMux.
func (g *Gateway) RegisterDebugHandlers() {
	debug.RegisterHandlerFunc("GET /debug/nodes", g.handleNodes)
	debug.RegisterHandlerFunc("GET /debug/pins/{id}", g.handlePin)
	debug.RegisterHandlerFunc("GET /debug/tasks", g.handleTasks)
	debug.RegisterHandlerFunc("GET /debug/batches/{id}/buckets", g.handleBuckets)

	debug.RegisterHandlerFunc("POST /admin/nodes", g.handleNodeAdd)
	debug.RegisterHandlerFunc("PATCH /admin/nodes/{id}", g.handleNodeUpdate)
	debug.RegisterHandlerFunc("DELETE /admin/nodes/{id}", g.handleNodeRemove)
	debug.RegisterHandlerFunc("POST /admin/nodes/resync", g.handleNodeResync)
}

func (g *Gateway) handleNodes(w http.ResponseWriter, r *http.Request) {
	status := g.pool.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":  g.pool.IsLoaded(),
		"count":   len(status),
		"healthy": int(debug.GaugeValue(nodepool.NodesHealthy)),
		"nodes":   status,
	})
}

func (g *Gateway) handlePin(w http.ResponseWriter, r *http.Request) {
	p, err := g.pins.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPinView(p))
}

func (g *Gateway) handleTasks(w http.ResponseWriter, r *http.Request) {
	stats, err := g.queue.Stats(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) handleBuckets(w http.ResponseWriter, r *http.Request) {
	u, err := g.buckets.GetOrRefresh(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":     u.BatchID,
		"depth":        u.Depth,
		"bucket_depth": u.BucketDepth,
		"utilization":  u.Utilization(),
		"synced_at":    u.SyncedAt,
	})
}
