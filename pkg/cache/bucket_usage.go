// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/binary"
	"slices"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// DefaultBucketUsageTTL is how long fetched bucket counters are trusted.
const DefaultBucketUsageTTL = time.Minute

// BucketIndexFunc maps a chunk address to its bucket within a batch.
type BucketIndexFunc func(addr types.Address, bucketDepth uint8) uint32

// PrefixBucketIndex uses the leading bucketDepth bits of the address.
func PrefixBucketIndex(addr types.Address, bucketDepth uint8) uint32 {
	if bucketDepth == 0 {
		return 0
	}
	return binary.BigEndian.Uint32(addr[:4]) >> (32 - uint32(min(bucketDepth, 32)))
}

// NodeSelector picks the node that serves bucket counters.
type NodeSelector interface {
	TrySelectHealthy(ctx context.Context, mode nodepool.Mode, filters ...nodepool.Filter) (*nodepool.Handle, bool)
}

// BucketUsageConfig configures a BucketUsageCache.
type BucketUsageConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// BucketUsageCache holds an approximate local view of postage batch bucket
// counters. Entries are loaded lazily from a node and may lag behind it;
// callers must not treat them as authoritative.
type BucketUsageCache struct {
	cache *Cache[*types.BucketUsage]
	nodes NodeSelector
	index BucketIndexFunc
}

// BucketUsageOption configures a BucketUsageCache.
type BucketUsageOption func(*BucketUsageCache)

func WithBucketIndex(f BucketIndexFunc) BucketUsageOption {
	return func(b *BucketUsageCache) {
		b.index = f
	}
}

func NewBucketUsageCache(nodes NodeSelector, cfg BucketUsageConfig, opts ...BucketUsageOption) *BucketUsageCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultBucketUsageTTL
	}
	b := &BucketUsageCache{
		nodes: nodes,
		index: PrefixBucketIndex,
	}
	b.cache = New(
		WithTTL[*types.BucketUsage](cfg.TTL),
		WithLoadFunc(b.load),
	)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func normalizeBatchID(batchID string) string {
	return strings.ToLower(strings.TrimPrefix(batchID, "0x"))
}

// load fetches counters from a node that holds the batch, or from any
// healthy node when none reports it.
func (b *BucketUsageCache) load(ctx context.Context, batchID string) (*types.BucketUsage, error) {
	h, ok := b.nodes.TrySelectHealthy(ctx, nodepool.ModeRandom, nodepool.WithBatch(batchID))
	if !ok {
		h, ok = b.nodes.TrySelectHealthy(ctx, nodepool.ModeRandom)
	}
	if !ok {
		return nil, types.NewNodeUnavailableError("no healthy node to load batch " + batchID)
	}

	start := time.Now()
	u, err := h.Client().BatchBuckets(ctx, batchID)
	BucketRefreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		BucketRefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	BucketRefreshTotal.WithLabelValues("ok").Inc()

	logger.Debug().
		Str("batch_id", batchID).
		Str("node_id", h.ID()).
		Uint32("utilization", u.Utilization()).
		Msg("cache: loaded bucket usage")
	return u, nil
}

func clone(u *types.BucketUsage) *types.BucketUsage {
	cp := *u
	cp.Buckets = slices.Clone(u.Buckets)
	return &cp
}

// GetOrRefresh returns the cached counters for batchID, loading them on the
// first reference or after expiry. The result is a copy.
func (b *BucketUsageCache) GetOrRefresh(ctx context.Context, batchID string) (*types.BucketUsage, error) {
	if batchID == "" {
		return nil, types.NewValidationError("batch id is required")
	}
	u, err := b.cache.GetOrLoad(ctx, normalizeBatchID(batchID))
	if err != nil {
		return nil, err
	}
	return clone(u), nil
}

// Invalidate drops the entry for batchID; the next read reloads it.
func (b *BucketUsageCache) Invalidate(batchID string) {
	b.cache.Delete(normalizeBatchID(batchID))
}

// Observe counts a chunk stamped with batchID against the cached counters.
// It is a no-op when the batch is not cached. It reports whether an entry
// was updated.
func (b *BucketUsageCache) Observe(batchID string, addr types.Address) bool {
	return b.cache.Update(normalizeBatchID(batchID), func(old *types.BucketUsage) *types.BucketUsage {
		next := clone(old)
		idx := b.index(addr, next.BucketDepth)
		if int(idx) < len(next.Buckets) {
			next.Buckets[idx]++
		}
		return next
	})
}

// HasCapacity reports whether the bucket addr falls into still has room
// according to the cached counters.
func (b *BucketUsageCache) HasCapacity(ctx context.Context, batchID string, addr types.Address) (bool, error) {
	u, err := b.GetOrRefresh(ctx, batchID)
	if err != nil {
		return false, err
	}
	idx := b.index(addr, u.BucketDepth)
	if int(idx) >= len(u.Buckets) {
		return false, nil
	}
	return u.Buckets[idx] < upperBound(u), nil
}

// upperBound is the per-bucket capacity, derived from the depths when the
// node did not report it.
func upperBound(u *types.BucketUsage) uint32 {
	if u.BucketUpperBound > 0 {
		return u.BucketUpperBound
	}
	if u.Depth <= u.BucketDepth {
		return 1
	}
	return 1 << (u.Depth - u.BucketDepth)
}

// Len returns the number of cached batches.
func (b *BucketUsageCache) Len() int {
	return b.cache.Size()
}

func (b *BucketUsageCache) Stop() {
	b.cache.Stop()
}
