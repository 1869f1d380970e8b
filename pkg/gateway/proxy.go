// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/pin"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/dustin/go-humanize"
)

// BatchHeader names the postage batch a request stamps with.
const BatchHeader = "Swarm-Postage-Batch-Id"

// maxChunkUpload is the largest body admitted on POST /chunks.
const maxChunkUpload = pin.SpanSize + pin.MaxChunkData

// NodeSelector picks the node a request is forwarded to.
type NodeSelector interface {
	TrySelectHealthy(ctx context.Context, mode nodepool.Mode, filters ...nodepool.Filter) (*nodepool.Handle, bool)
}

// Admission decides whether a stamped chunk fits its batch, and records
// chunks that were stored.
type Admission interface {
	HasCapacity(ctx context.Context, batchID string, addr types.Address) (bool, error)
	Observe(batchID string, addr types.Address) bool
}

// Proxy forwards requests to one healthy node. A transport failure is
// answered with 502 and never retried on another node, since the request
// may not be idempotent.
type Proxy struct {
	nodes     NodeSelector
	admission Admission
	mode      nodepool.Mode
}

// NewProxy creates a proxy. admission may be nil.
func NewProxy(nodes NodeSelector, admission Admission, mode nodepool.Mode) *Proxy {
	return &Proxy{nodes: nodes, admission: admission, mode: mode}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { ProxyDuration.Observe(time.Since(start).Seconds()) }()

	batchID := strings.ToLower(strings.TrimPrefix(r.Header.Get(BatchHeader), "0x"))
	var filters []nodepool.Filter
	if batchID != "" {
		filters = append(filters, nodepool.WithBatch(batchID))
	}

	var chunkAddr types.Address
	admit := p.admission != nil && batchID != "" && r.Method == http.MethodPost && r.URL.Path == "/chunks"
	if admit {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxChunkUpload+1))
		r.Body.Close()
		if err != nil {
			ProxyRequestsTotal.WithLabelValues("rejected").Inc()
			WriteError(w, types.NewValidationError("read chunk: %v", err))
			return
		}
		if len(body) == 0 || len(body) > maxChunkUpload {
			ProxyRequestsTotal.WithLabelValues("rejected").Inc()
			WriteError(w, types.NewValidationError("chunk size %s out of range", humanize.Bytes(uint64(len(body)))))
			return
		}
		chunkAddr = types.AddressOf(body)
		ok, err := p.admission.HasCapacity(r.Context(), batchID, chunkAddr)
		switch {
		case err != nil:
			// The counters are advisory; the node makes the final call.
			logger.Debug().Err(err).Str("batch_id", batchID).Msg("gateway: bucket usage unavailable")
		case !ok:
			ProxyRequestsTotal.WithLabelValues("rejected").Inc()
			WriteError(w, types.NewConflictError("batch %s bucket for %s is full", batchID, chunkAddr))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	h, ok := p.nodes.TrySelectHealthy(r.Context(), p.mode, filters...)
	if !ok {
		ProxyRequestsTotal.WithLabelValues("no_node").Inc()
		WriteError(w, types.NewNodeUnavailableError("no healthy node for request"))
		return
	}

	target := h.Endpoint()
	failed := false
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: h.Transport(),
		ModifyResponse: func(resp *http.Response) error {
			if admit && resp.StatusCode/100 == 2 {
				p.admission.Observe(batchID, chunkAddr)
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			failed = true
			ProxyRequestsTotal.WithLabelValues("upstream_error").Inc()
			logger.Warn().
				Err(err).
				Str("node_id", h.ID()).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("gateway: forwarding failed")
			WriteError(w, types.NewUpstreamError(target.String(), err))
		},
	}
	rp.ServeHTTP(w, r)
	if !failed {
		ProxyRequestsTotal.WithLabelValues("ok").Inc()
	}
}
