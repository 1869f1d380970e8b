// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/registry"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/hashicorp/go-cleanhttp"
)

// maxAdminBody caps admin request and response bodies.
const maxAdminBody = 1 << 20

// Node administration goes through the running gateway so the registry
// event reaches its pool before the response is written.

func (g *Gateway) handleNodeAdd(w http.ResponseWriter, r *http.Request) {
	var spec registry.NodeSpec
	if err := decodeBody(r, &spec); err != nil {
		WriteError(w, err)
		return
	}
	rec, err := g.registry.Register(r.Context(), spec)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (g *Gateway) handleNodeUpdate(w http.ResponseWriter, r *http.Request) {
	var u registry.NodeUpdate
	if err := decodeBody(r, &u); err != nil {
		WriteError(w, err)
		return
	}
	rec, err := g.registry.Update(r.Context(), r.PathValue("id"), u)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (g *Gateway) handleNodeRemove(w http.ResponseWriter, r *http.Request) {
	if err := g.registry.Remove(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleNodeResync(w http.ResponseWriter, r *http.Request) {
	if err := g.ResyncNodes(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": g.pool.Len()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxAdminBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.NewValidationError("decode request body: %v", err)
	}
	return nil
}

// AdminClient drives the node administration routes of a running gateway's
// debug server.
type AdminClient struct {
	base string
	http *http.Client
}

// NewAdminClient targets the debug server at base, e.g. http://localhost:8085.
func NewAdminClient(base string, timeout time.Duration) *AdminClient {
	c := cleanhttp.DefaultClient()
	c.Timeout = timeout
	return &AdminClient{base: strings.TrimRight(base, "/"), http: c}
}

func (c *AdminClient) RegisterNode(ctx context.Context, spec registry.NodeSpec) (*types.NodeRecord, error) {
	var rec types.NodeRecord
	if err := c.do(ctx, http.MethodPost, "/admin/nodes", spec, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *AdminClient) UpdateNode(ctx context.Context, id string, u registry.NodeUpdate) (*types.NodeRecord, error) {
	var rec types.NodeRecord
	if err := c.do(ctx, http.MethodPatch, "/admin/nodes/"+id, u, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *AdminClient) RemoveNode(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/nodes/"+id, nil, nil)
}

// ResyncNodes makes the gateway reload its pool from the record store.
func (c *AdminClient) ResyncNodes(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/admin/nodes/resync", nil, nil)
}

// NodeStatus returns the gateway's live view of the fleet.
func (c *AdminClient) NodeStatus(ctx context.Context) ([]nodepool.NodeStatus, error) {
	var out struct {
		Nodes []nodepool.NodeStatus `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/debug/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return types.NewValidationError("encode request: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return types.NewValidationError("gateway address: %v", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewUpstreamError(c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var eb errorBody
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxAdminBody)).Decode(&eb); err != nil || eb.Code == "" {
			return types.NewUpstreamError(c.base, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
		}
		return &types.Error{Code: types.ParseErrorCode(eb.Code), Message: eb.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAdminBody)).Decode(out); err != nil {
		return types.NewUpstreamError(c.base, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}
