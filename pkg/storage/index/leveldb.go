// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"bytes"
	"encoding/gob"
	"errors"
	"os"
	"slices"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/utils"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type LevelDBIndexer[K comparable, V any] struct {
	db         *leveldb.DB
	dbDir      string
	keyToBytes func(K) []byte
	bytesToKey func([]byte) (K, error)

	writeOpts     *opt.WriteOptions
	writeOptsSync *opt.WriteOptions
}

func serialize[T any](v T) ([]byte, error) {
	buf := utils.SyncPoolGetBuffer()
	defer utils.SyncPoolPutBuffer(buf)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return slices.Clone(buf.Bytes()), nil
}

func deserialize[T any](data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

// NewLevelDBIndexer opens (or creates) a LevelDB directory, recovering it if
// the manifest is corrupted.
func NewLevelDBIndexer[K comparable, V any](
	dbDir string,
	opts *opt.Options,
	keyToBytes func(K) []byte,
	bytesToKey func([]byte) (K, error)) (*LevelDBIndexer[K, V], error) {
	db, err := leveldb.OpenFile(dbDir, opts)
	if lerrors.IsCorrupted(err) {
		logger.Warn().Err(err).Str("dir", dbDir).Msg("index: recovering corrupted leveldb")
		db, err = leveldb.RecoverFile(dbDir, opts)
	}
	if err != nil {
		return nil, err
	}
	return &LevelDBIndexer[K, V]{
		db:            db,
		dbDir:         dbDir,
		keyToBytes:    keyToBytes,
		bytesToKey:    bytesToKey,
		writeOpts:     &opt.WriteOptions{Sync: false},
		writeOptsSync: &opt.WriteOptions{Sync: true},
	}, nil
}

func (m *LevelDBIndexer[K, V]) Put(key K, value V) error {
	data, err := serialize(value)
	if err != nil {
		return err
	}
	return m.db.Put(m.keyToBytes(key), data, m.writeOpts)
}

func (m *LevelDBIndexer[K, V]) PutSync(key K, value V) error {
	data, err := serialize(value)
	if err != nil {
		return err
	}
	return m.db.Put(m.keyToBytes(key), data, m.writeOptsSync)
}

func (m *LevelDBIndexer[K, V]) Get(key K) (V, error) {
	var zero V
	data, err := m.db.Get(m.keyToBytes(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	return deserialize[V](data)
}

func (m *LevelDBIndexer[K, V]) Has(key K) (bool, error) {
	return m.db.Has(m.keyToBytes(key), nil)
}

func (m *LevelDBIndexer[K, V]) Delete(key K) error {
	return m.db.Delete(m.keyToBytes(key), m.writeOpts)
}

func (m *LevelDBIndexer[K, V]) Iterate(f func(key K, value V) error) error {
	iter := m.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key, err := m.bytesToKey(iter.Key())
		if err != nil {
			return err
		}
		value, err := deserialize[V](iter.Value())
		if err != nil {
			return err
		}
		if err := f(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Sync flushes buffered writes with an empty synchronous batch.
func (m *LevelDBIndexer[K, V]) Sync() error {
	return m.db.Write(new(leveldb.Batch), m.writeOptsSync)
}

func (m *LevelDBIndexer[K, V]) Close() error {
	return m.db.Close()
}

func (m *LevelDBIndexer[K, V]) Destroy() error {
	if err := m.Close(); err != nil {
		return err
	}
	return os.RemoveAll(m.dbDir)
}
