// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package beeclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNode(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, WithTimeout(2*time.Second))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"http://bee-1:1633", false},
		{"https://bee.example.com/", false},
		{"ftp://bee-1", true},
		{"bee-1:1633", true},
		{"http://", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			_, err := ParseEndpoint(tt.in)
			if tt.wantErr {
				assert.True(t, types.IsCode(err, types.ErrCodeValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	healthy := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"ok","version":"2.3.0"}`))
	})
	assert.NoError(t, healthy.Health(context.Background()))

	degraded := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"nok"}`))
	})
	assert.True(t, types.IsCode(degraded.Health(context.Background()), types.ErrCodeUpstream))

	broken := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	err := broken.Health(context.Background())
	assert.True(t, types.IsCode(err, types.ErrCodeUpstream))
	assert.Contains(t, err.Error(), "500")
}

func TestHealthTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.True(t, types.IsCode(c.Health(ctx), types.ErrCodeUpstream))
}

func TestChunk(t *testing.T) {
	t.Parallel()

	payload := []byte("chunk-data")
	addr := types.AddressOf(payload)
	c := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunks/"+addr.String() {
			_, _ = w.Write(payload)
			return
		}
		http.NotFound(w, r)
	})

	got, err := c.Chunk(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = c.Chunk(context.Background(), types.AddressOf([]byte("other")))
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
}

func TestChunkTooLarge(t *testing.T) {
	t.Parallel()

	c := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", maxChunkBody+1)))
	})
	_, err := c.Chunk(context.Background(), types.AddressOf([]byte("big")))
	assert.True(t, types.IsCode(err, types.ErrCodeUpstream))
}

func TestBatches(t *testing.T) {
	t.Parallel()

	c := newNode(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stamps":
			_, _ = w.Write([]byte(`{"stamps":[{"batchID":"AA11","usable":true,"depth":20},{"batchID":"bb22","usable":false}]}`))
		case "/stamps/aa11/buckets":
			_, _ = w.Write([]byte(`{"depth":20,"bucketDepth":2,"bucketUpperBound":16,"buckets":[{"bucketID":0,"collisions":3},{"bucketID":3,"collisions":7},{"bucketID":9,"collisions":1}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	ids, err := c.UsableBatchIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"aa11"}, ids)

	usage, err := c.BatchBuckets(context.Background(), "aa11")
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 0, 0, 7}, usage.Buckets)
	assert.EqualValues(t, 16, usage.BucketUpperBound)
	assert.EqualValues(t, 7, usage.Utilization())

	_, err = c.BatchBuckets(context.Background(), "missing")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFound))
}

func TestEndpointIsCopy(t *testing.T) {
	t.Parallel()

	c, err := New("http://bee-1:1633/")
	require.NoError(t, err)
	u := c.Endpoint()
	u.Host = "evil"
	assert.Equal(t, "bee-1:1633", c.Endpoint().Host)
	assert.NotNil(t, c.Transport())
}
