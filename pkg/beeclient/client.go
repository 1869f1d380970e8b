// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package beeclient is a minimal client for the Bee node HTTP API: health
// probes, chunk retrieval and postage batch inspection.
package beeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	defaultTimeout = 30 * time.Second

	// maxChunkBody bounds a chunk response: 8 byte span, 4096 byte payload,
	// plus headroom for stamped chunks.
	maxChunkBody = 8 + 4096 + 1024
	maxJSONBody  = 4 << 20
)

// Client talks to a single Bee node.
type Client struct {
	endpoint  *url.URL
	transport http.RoundTripper
	http      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the pooled transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithTimeout sets the overall request timeout. Contexts passed to
// individual calls can only shorten it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// New creates a client for an http(s) endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	u, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:  u,
		transport: cleanhttp.DefaultPooledTransport(),
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Transport = c.transport
	return c, nil
}

// ParseEndpoint validates a node endpoint URL.
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, types.NewValidationError("invalid endpoint %q: %v", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, types.NewValidationError("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return nil, types.NewValidationError("invalid endpoint %q: missing host", endpoint)
	}
	return u, nil
}

// Endpoint returns a copy of the node's base URL.
func (c *Client) Endpoint() *url.URL {
	u := *c.endpoint
	return &u
}

// Transport returns the round tripper used for this node, suitable for a
// reverse proxy forwarding to Endpoint.
func (c *Client) Transport() http.RoundTripper {
	return c.transport
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) url(path string) string {
	return c.endpoint.String() + path
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, types.NewUpstreamError(c.endpoint.String(), err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.NewUpstreamError(c.endpoint.String(), err)
	}
	return resp, nil
}

// statusError drains and closes resp, converting it to an error.
func (c *Client) statusError(resp *http.Response, kind, id string) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusNotFound && kind != "" {
		return types.NewNotFoundError(kind, id)
	}
	return types.NewUpstreamError(c.endpoint.String(),
		fmt.Errorf("GET %s: status %d: %s", resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(body))))
}

func (c *Client) getJSON(ctx context.Context, path, kind, id string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, kind, id)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBody)).Decode(out); err != nil {
		return types.NewUpstreamError(c.endpoint.String(), fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health probes the node. Any non-200 or non-"ok" status is an error.
func (c *Client) Health(ctx context.Context) error {
	var h healthResponse
	if err := c.getJSON(ctx, "/health", "", "", &h); err != nil {
		return err
	}
	if h.Status != "ok" {
		return types.NewUpstreamError(c.endpoint.String(), fmt.Errorf("node reports status %q", h.Status))
	}
	return nil
}

// Chunk fetches raw chunk data by address.
func (c *Client) Chunk(ctx context.Context, addr types.Address) ([]byte, error) {
	resp, err := c.get(ctx, "/chunks/"+addr.String())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "chunk", addr.String())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChunkBody+1))
	if err != nil {
		return nil, types.NewUpstreamError(c.endpoint.String(), err)
	}
	if len(data) > maxChunkBody {
		return nil, types.NewUpstreamError(c.endpoint.String(), fmt.Errorf("chunk %s exceeds %d bytes", addr, maxChunkBody))
	}
	return data, nil
}

// Stamp is a postage batch owned by the node.
type Stamp struct {
	BatchID     string `json:"batchID"`
	Usable      bool   `json:"usable"`
	Depth       uint8  `json:"depth"`
	BucketDepth uint8  `json:"bucketDepth"`
	Utilization uint32 `json:"utilization"`
}

type stampsResponse struct {
	Stamps []Stamp `json:"stamps"`
}

// Batches lists the node's postage batches.
func (c *Client) Batches(ctx context.Context) ([]Stamp, error) {
	var r stampsResponse
	if err := c.getJSON(ctx, "/stamps", "", "", &r); err != nil {
		return nil, err
	}
	return r.Stamps, nil
}

// UsableBatchIDs lists the ids of usable batches.
func (c *Client) UsableBatchIDs(ctx context.Context) ([]string, error) {
	stamps, err := c.Batches(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(stamps))
	for _, s := range stamps {
		if s.Usable {
			ids = append(ids, strings.ToLower(s.BatchID))
		}
	}
	return ids, nil
}

type bucketsResponse struct {
	Depth            uint8  `json:"depth"`
	BucketDepth      uint8  `json:"bucketDepth"`
	BucketUpperBound uint32 `json:"bucketUpperBound"`
	Buckets          []struct {
		BucketID   uint32 `json:"bucketID"`
		Collisions uint32 `json:"collisions"`
	} `json:"buckets"`
}

// BatchBuckets fetches the per-bucket collision counters of a batch.
func (c *Client) BatchBuckets(ctx context.Context, batchID string) (*types.BucketUsage, error) {
	var r bucketsResponse
	if err := c.getJSON(ctx, "/stamps/"+url.PathEscape(batchID)+"/buckets", "batch", batchID, &r); err != nil {
		return nil, err
	}

	usage := &types.BucketUsage{
		BatchID:          batchID,
		Depth:            r.Depth,
		BucketDepth:      r.BucketDepth,
		BucketUpperBound: r.BucketUpperBound,
		Buckets:          make([]uint32, 1<<r.BucketDepth),
		SyncedAt:         time.Now(),
	}
	for _, b := range r.Buckets {
		if int(b.BucketID) < len(usage.Buckets) {
			usage.Buckets[b.BucketID] = b.Collisions
		}
	}
	return usage, nil
}
