// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"hash/maphash"
	"sync"
)

const numShards = 64

// ShardedMap is a string-keyed concurrent map striped across numShards locks.
type ShardedMap[V any] struct {
	seed   maphash.Seed
	shards [numShards]shard[V]
}

type shard[V any] struct {
	sync.RWMutex
	m map[string]V
}

func NewShardedMap[V any]() *ShardedMap[V] {
	sm := &ShardedMap[V]{seed: maphash.MakeSeed()}
	for i := range sm.shards {
		sm.shards[i].m = make(map[string]V)
	}
	return sm
}

func (sm *ShardedMap[V]) getShard(key string) *shard[V] {
	return &sm.shards[maphash.String(sm.seed, key)%numShards]
}

func (sm *ShardedMap[V]) Load(key string) (V, bool) {
	s := sm.getShard(key)
	s.RLock()
	v, ok := s.m[key]
	s.RUnlock()
	return v, ok
}

func (sm *ShardedMap[V]) Store(key string, value V) {
	s := sm.getShard(key)
	s.Lock()
	s.m[key] = value
	s.Unlock()
}

// LoadOrStore returns the existing value if present, otherwise stores value.
// The bool is true if the value was loaded.
func (sm *ShardedMap[V]) LoadOrStore(key string, value V) (V, bool) {
	s := sm.getShard(key)
	s.Lock()
	defer s.Unlock()
	if v, ok := s.m[key]; ok {
		return v, true
	}
	s.m[key] = value
	return value, false
}

// Compute atomically replaces the value for key with f's result.
// If f returns keep=false the key is deleted.
func (sm *ShardedMap[V]) Compute(key string, f func(old V, exists bool) (V, bool)) V {
	s := sm.getShard(key)
	s.Lock()
	defer s.Unlock()
	old, ok := s.m[key]
	next, keep := f(old, ok)
	if keep {
		s.m[key] = next
	} else {
		delete(s.m, key)
	}
	return next
}

func (sm *ShardedMap[V]) Delete(key string) {
	s := sm.getShard(key)
	s.Lock()
	delete(s.m, key)
	s.Unlock()
}

// Range calls f for every entry, one shard at a time. Stops when f returns false.
func (sm *ShardedMap[V]) Range(f func(key string, value V) bool) {
	for i := range sm.shards {
		s := &sm.shards[i]
		s.RLock()
		for k, v := range s.m {
			if !f(k, v) {
				s.RUnlock()
				return
			}
		}
		s.RUnlock()
	}
}

func (sm *ShardedMap[V]) Len() int {
	n := 0
	for i := range sm.shards {
		s := &sm.shards[i]
		s.RLock()
		n += len(s.m)
		s.RUnlock()
	}
	return n
}

// DeleteIf removes every entry matching predicate and returns the count.
func (sm *ShardedMap[V]) DeleteIf(predicate func(key string, value V) bool) int {
	deleted := 0
	for i := range sm.shards {
		s := &sm.shards[i]
		s.Lock()
		for k, v := range s.m {
			if predicate(k, v) {
				delete(s.m, k)
				deleted++
			}
		}
		s.Unlock()
	}
	return deleted
}

func (sm *ShardedMap[V]) Clear() {
	for i := range sm.shards {
		s := &sm.shards[i]
		s.Lock()
		clear(s.m)
		s.Unlock()
	}
}
