// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"iter"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/utils"

	"golang.org/x/sync/singleflight"
)

// entry wraps a value with the time it was stored
type entry[V any] struct {
	value    V
	storedAt int64 // Unix nano timestamp
}

// Cache is a concurrent string-keyed cache with lock striping.
//
// Features:
//   - Optional TTL: entries expire a fixed duration after they were stored
//   - Optional max size: the oldest entry is evicted when capacity is reached
//   - Optional load function: concurrent misses for one key share a single load
//
// Usage:
//
//	c := cache.New[*Usage](cache.WithTTL[*Usage](time.Minute))
//	defer c.Stop()
type Cache[V any] struct {
	store *utils.ShardedMap[*entry[V]]

	// Optional load function for cache misses
	loadFunc func(ctx context.Context, key string) (V, error)
	loads    singleflight.Group

	// Max size (0 = unlimited)
	maxSize int

	// TTL expiry (0 = no expiry)
	ttl time.Duration

	cleanupTimer *time.Timer
	cleanupStop  chan struct{}
}

// Option configures a Cache
type Option[V any] func(*Cache[V])

// WithMaxSize sets the maximum number of entries. When capacity is reached
// the oldest entry is evicted.
func WithMaxSize[V any](maxSize int) Option[V] {
	return func(c *Cache[V]) {
		c.maxSize = maxSize
	}
}

// WithTTL sets how long an entry stays valid after it is stored. Updating an
// entry in place does not extend its life. A background timer removes
// expired entries every TTL.
func WithTTL[V any](ttl time.Duration) Option[V] {
	return func(c *Cache[V]) {
		c.ttl = ttl
	}
}

// WithLoadFunc sets a function to call on cache misses.
func WithLoadFunc[V any](loadFunc func(ctx context.Context, key string) (V, error)) Option[V] {
	return func(c *Cache[V]) {
		c.loadFunc = loadFunc
	}
}

func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		store:       utils.NewShardedMap[*entry[V]](),
		cleanupStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl > 0 {
		c.startCleanup()
	}
	return c
}

func (c *Cache[V]) startCleanup() {
	c.cleanupTimer = time.AfterFunc(c.ttl, func() {
		c.cleanup()
		select {
		case <-c.cleanupStop:
			return
		default:
			c.cleanupTimer.Reset(c.ttl)
		}
	})
}

func (c *Cache[V]) cleanup() {
	now := time.Now().UnixNano()
	n := c.store.DeleteIf(func(_ string, e *entry[V]) bool {
		return c.expired(e, now)
	})
	if n > 0 {
		ExpiredTotal.Add(float64(n))
	}
}

func (c *Cache[V]) expired(e *entry[V], now int64) bool {
	return c.ttl > 0 && now-e.storedAt >= c.ttl.Nanoseconds()
}

// Stop stops the cleanup timer. Expired entries are still hidden from Get.
func (c *Cache[V]) Stop() {
	if c.cleanupTimer != nil {
		c.cleanupTimer.Stop()
		select {
		case <-c.cleanupStop:
		default:
			close(c.cleanupStop)
		}
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.store.Load(key)
	if !ok || c.expired(e, time.Now().UnixNano()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrLoad returns the cached value for key, loading it on a miss.
// Concurrent misses for the same key wait for one load. Without a load
// function a miss returns the zero value.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string) (V, error) {
	if val, ok := c.Get(key); ok {
		HitsTotal.Inc()
		return val, nil
	}
	MissesTotal.Inc()
	if c.loadFunc == nil {
		var zero V
		return zero, nil
	}

	v, err, _ := c.loads.Do(key, func() (any, error) {
		if val, ok := c.Get(key); ok {
			return val, nil
		}
		val, err := c.loadFunc(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Set(key, val)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Set adds or replaces the value for key and restarts its TTL.
func (c *Cache[V]) Set(key string, value V) {
	if c.maxSize > 0 && c.store.Len() >= c.maxSize {
		if _, exists := c.store.Load(key); !exists {
			c.evictOldest()
		}
	}
	c.store.Store(key, &entry[V]{value: value, storedAt: time.Now().UnixNano()})
}

// Update replaces a live entry with f's result, keeping its original store
// time. It reports whether an entry was updated.
func (c *Cache[V]) Update(key string, f func(old V) V) bool {
	updated := false
	now := time.Now().UnixNano()
	c.store.Compute(key, func(old *entry[V], exists bool) (*entry[V], bool) {
		if !exists || c.expired(old, now) {
			return old, exists
		}
		updated = true
		return &entry[V]{value: f(old.value), storedAt: old.storedAt}, true
	})
	return updated
}

func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest int64
	first := true
	c.store.Range(func(k string, e *entry[V]) bool {
		if first || e.storedAt < oldest {
			oldestKey, oldest, first = k, e.storedAt, false
		}
		return true
	})
	if !first {
		c.store.Delete(oldestKey)
		EvictionsTotal.Inc()
	}
}

func (c *Cache[V]) Delete(key string) {
	c.store.Delete(key)
}

// Size returns the number of stored entries, including expired ones not yet
// cleaned up.
func (c *Cache[V]) Size() int {
	return c.store.Len()
}

func (c *Cache[V]) Clear() {
	c.store.Clear()
}

// Iter returns an iterator over all live entries.
func (c *Cache[V]) Iter() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		now := time.Now().UnixNano()
		c.store.Range(func(key string, e *entry[V]) bool {
			if c.expired(e, now) {
				return true
			}
			return yield(key, e.value)
		})
	}
}
