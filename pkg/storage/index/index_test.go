// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testValue struct {
	Name  string
	Value int
}

func stringKey(k string) []byte { return []byte(k) }

func bytesKey(b []byte) (string, error) { return string(b), nil }

func indexers(t *testing.T) map[string]Indexer[string, testValue] {
	t.Helper()

	ldb, err := NewLevelDBIndexer[string, testValue](filepath.Join(t.TempDir(), "idx"), nil, stringKey, bytesKey)
	require.NoError(t, err)
	t.Cleanup(func() { ldb.Close() })

	return map[string]Indexer[string, testValue]{
		"memory":  NewMemoryIndexer[string, testValue](),
		"leveldb": ldb,
	}
}

func TestIndexer_PutGetDelete(t *testing.T) {
	t.Parallel()

	for name, idx := range indexers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := idx.Get("missing")
			assert.ErrorIs(t, err, ErrNotFound)

			val := testValue{Name: "a", Value: 1}
			require.NoError(t, idx.Put("k", val))
			got, err := idx.Get("k")
			require.NoError(t, err)
			assert.Equal(t, val, got)

			ok, err := idx.Has("k")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, idx.PutSync("k", testValue{Name: "b", Value: 2}))
			got, err = idx.Get("k")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Value)

			require.NoError(t, idx.Delete("k"))
			ok, err = idx.Has("k")
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, idx.Sync())
		})
	}
}

func TestIndexer_Iterate(t *testing.T) {
	t.Parallel()

	for name, idx := range indexers(t) {
		t.Run(name, func(t *testing.T) {
			for i, k := range []string{"a", "b", "c"} {
				require.NoError(t, idx.Put(k, testValue{Name: k, Value: i}))
			}

			seen := map[string]int{}
			require.NoError(t, idx.Iterate(func(k string, v testValue) error {
				seen[k] = v.Value
				return nil
			}))
			assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2}, seen)

			stop := errors.New("stop")
			count := 0
			err := idx.Iterate(func(string, testValue) error {
				count++
				return stop
			})
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, 1, count)
		})
	}
}

func TestLevelDBIndexer_Reopen(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "idx")
	idx, err := NewLevelDBIndexer[string, testValue](dir, nil, stringKey, bytesKey)
	require.NoError(t, err)
	require.NoError(t, idx.PutSync("durable", testValue{Name: "d", Value: 9}))
	require.NoError(t, idx.Close())

	idx, err = NewLevelDBIndexer[string, testValue](dir, nil, stringKey, bytesKey)
	require.NoError(t, err)
	defer idx.Destroy()

	got, err := idx.Get("durable")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Value)
}
