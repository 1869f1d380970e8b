// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkstore is the layered content-addressed chunk store.
//
// Reads go to the authoritative local tier, then the legacy blob tier, then
// a healthy remote node. Remote hits are returned but never written back:
// the local tier only holds chunks that were uploaded or retained by a pin.
package chunkstore

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// Config controls the remote fallback tier.
type Config struct {
	// RemoteFetch enables the remote tier.
	RemoteFetch bool `mapstructure:"remote_fetch"`

	// RemoteFetchRPS caps remote fetches per second across the process.
	// Zero means unlimited.
	RemoteFetchRPS   float64 `mapstructure:"remote_fetch_rps"`
	RemoteFetchBurst int     `mapstructure:"remote_fetch_burst"`

	// RemoteTimeout bounds a single remote fetch.
	RemoteTimeout time.Duration `mapstructure:"remote_timeout"`
}

func DefaultConfig() Config {
	return Config{
		RemoteFetch:      true,
		RemoteFetchRPS:   200,
		RemoteFetchBurst: 50,
		RemoteTimeout:    10 * time.Second,
	}
}

// NodeSelector picks a node for remote fetches.
type NodeSelector interface {
	TrySelectHealthy(ctx context.Context, mode nodepool.Mode, filters ...nodepool.Filter) (*nodepool.Handle, bool)
}

var _ NodeSelector = (*nodepool.Pool)(nil)

// Store is the layered chunk store. Legacy, uploads and nodes are optional.
type Store struct {
	local   store.ChunkStore
	uploads store.UploadStore
	legacy  backend.BlobStore
	nodes   NodeSelector

	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

func WithLegacy(b backend.BlobStore) Option {
	return func(s *Store) {
		s.legacy = b
	}
}

func WithUploads(u store.UploadStore) Option {
	return func(s *Store) {
		s.uploads = u
	}
}

func WithNodes(n NodeSelector) Option {
	return func(s *Store) {
		s.nodes = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(local store.ChunkStore, cfg Config, opts ...Option) *Store {
	s := &Store{
		local: local,
		cfg:   cfg,
		now:   time.Now,
	}
	if cfg.RemoteFetchRPS > 0 {
		burst := max(cfg.RemoteFetchBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RemoteFetchRPS), burst)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the payload of addr from the first tier that has it.
func (s *Store) Load(ctx context.Context, addr types.Address) ([]byte, error) {
	payload, _, err := s.Fetch(ctx, addr)
	return payload, err
}

// Fetch is Load that also reports the tier that served the chunk. When no
// tier has the chunk the error is NotFound, unless a tier failed, in which
// case the first failure is returned.
func (s *Store) Fetch(ctx context.Context, addr types.Address) ([]byte, types.ChunkTier, error) {
	var firstErr error
	note := func(tier types.ChunkTier, err error) {
		if types.IsCode(err, types.ErrCodeNotFound) || errors.Is(err, backend.ErrNotFound) {
			return
		}
		logger.Warn().Err(err).Str("tier", string(tier)).Str("address", addr.String()).
			Msg("chunkstore: tier lookup failed")
		if firstErr == nil {
			firstErr = err
		}
	}

	c, err := s.local.GetChunk(ctx, addr)
	if err == nil {
		FetchTotal.WithLabelValues(string(types.TierLocal)).Inc()
		return c.Payload, types.TierLocal, nil
	}
	note(types.TierLocal, err)

	if s.legacy != nil {
		data, err := s.legacy.Get(ctx, addr.String())
		if err == nil {
			FetchTotal.WithLabelValues(string(types.TierLegacy)).Inc()
			return data, types.TierLegacy, nil
		}
		note(types.TierLegacy, err)
	}

	if s.cfg.RemoteFetch && s.nodes != nil {
		data, err := s.fetchRemote(ctx, addr)
		if err == nil {
			FetchTotal.WithLabelValues(string(types.TierRemote)).Inc()
			return data, types.TierRemote, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		note(types.TierRemote, err)
	}

	FetchTotal.WithLabelValues("miss").Inc()
	if firstErr != nil {
		return nil, "", firstErr
	}
	return nil, "", types.NewNotFoundError("chunk", addr.String())
}

func (s *Store) fetchRemote(ctx context.Context, addr types.Address) ([]byte, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	h, ok := s.nodes.TrySelectHealthy(ctx, nodepool.ModeRandom)
	if !ok {
		return nil, types.NewNodeUnavailableError("no healthy node for remote chunk fetch")
	}

	if s.cfg.RemoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RemoteTimeout)
		defer cancel()
	}

	start := time.Now()
	data, err := h.Client().Chunk(ctx, addr)
	RemoteFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	logger.Debug().
		Str("address", addr.String()).
		Str("node_id", h.ID()).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("chunkstore: served chunk from remote node")
	return data, nil
}

// Save writes chunk into the authoritative tier if absent, computing its
// address from the payload when unset. It reports whether the chunk is
// stored afterwards; saving an existing chunk succeeds without a new record.
// A payload that does not hash to the chunk address is never written. Store
// failures are logged and reported as false.
func (s *Store) Save(ctx context.Context, chunk *types.Chunk) bool {
	if chunk == nil {
		return false
	}
	if chunk.Address.IsZero() {
		chunk.Address = types.AddressOf(chunk.Payload)
	}
	if !addressMatches(chunk) {
		SaveTotal.WithLabelValues("mismatch").Inc()
		logger.Warn().Str("address", chunk.Address.String()).Msg("chunkstore: payload does not match address")
		return false
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	}

	created, err := s.local.CreateChunk(ctx, chunk)
	if err != nil {
		SaveTotal.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Str("address", chunk.Address.String()).Msg("chunkstore: save failed")
		return false
	}
	if created {
		SaveTotal.WithLabelValues("created").Inc()
	} else {
		SaveTotal.WithLabelValues("exists").Inc()
	}
	return true
}

// Delete removes addr from the authoritative and legacy tiers and reports
// whether either had it. Store failures count as not found.
func (s *Store) Delete(ctx context.Context, addr types.Address) bool {
	found, err := s.local.DeleteChunk(ctx, addr)
	if err != nil {
		logger.Warn().Err(err).Str("address", addr.String()).Msg("chunkstore: local delete failed")
		found = false
	}

	if s.legacy != nil {
		legacyFound, err := s.legacy.Delete(ctx, addr.String())
		if err != nil {
			logger.Warn().Err(err).Str("address", addr.String()).Msg("chunkstore: legacy delete failed")
		}
		found = found || legacyFound
	}
	return found
}

// Retain stores chunk in the authoritative tier (if absent) and adds pinID to
// its back-reference set. Both steps are idempotent. The payload must hash to
// the chunk address.
func (s *Store) Retain(ctx context.Context, chunk *types.Chunk, pinID string) error {
	if !addressMatches(chunk) {
		return types.NewValidationError("payload does not match chunk address %s", chunk.Address.String())
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = s.now().UTC().Truncate(time.Microsecond)
	}
	if _, err := s.local.CreateChunk(ctx, chunk); err != nil {
		return types.NewPersistenceError("retain chunk "+chunk.Address.String(), err)
	}
	return s.AddPin(ctx, chunk.Address, pinID)
}

// AddPin adds pinID to the back-reference set of a chunk already held in the
// authoritative tier, without touching its payload.
func (s *Store) AddPin(ctx context.Context, addr types.Address, pinID string) error {
	if err := s.local.AddChunkPin(ctx, addr, pinID); err != nil {
		if types.IsCode(err, types.ErrCodeNotFound) {
			return err
		}
		return types.NewPersistenceError("add pin to chunk "+addr.String(), err)
	}
	return nil
}

func addressMatches(chunk *types.Chunk) bool {
	return types.AddressOf(chunk.Payload) == chunk.Address
}

// Get returns the authoritative record of addr, with its back-references.
func (s *Store) Get(ctx context.Context, addr types.Address) (*types.Chunk, error) {
	return s.local.GetChunk(ctx, addr)
}

// Upload saves payload locally and queues it for propagation to the network.
func (s *Store) Upload(ctx context.Context, payload []byte) (types.Address, error) {
	if len(payload) == 0 {
		return types.ZeroAddress, types.NewValidationError("empty chunk payload")
	}
	chunk := types.NewChunk(payload)
	if !s.Save(ctx, chunk) {
		return types.ZeroAddress, types.NewPersistenceError("save uploaded chunk", nil)
	}
	if s.uploads != nil {
		ref := types.UploadedChunkRef{Address: chunk.Address, EnqueuedAt: s.now().UTC().Truncate(time.Microsecond)}
		if _, err := s.uploads.EnqueueUpload(ctx, ref); err != nil {
			return chunk.Address, types.NewPersistenceError("enqueue upload", err)
		}
	}
	logger.Debug().
		Str("address", chunk.Address.String()).
		Str("size", humanize.Bytes(uint64(len(payload)))).
		Msg("chunkstore: chunk uploaded")
	return chunk.Address, nil
}

// PendingUploads lists chunks awaiting propagation, oldest first.
func (s *Store) PendingUploads(ctx context.Context, limit int) ([]types.UploadedChunkRef, error) {
	if s.uploads == nil {
		return nil, nil
	}
	return s.uploads.ListUploads(ctx, limit)
}

// MarkPropagated drops addr from the upload queue.
func (s *Store) MarkPropagated(ctx context.Context, addr types.Address) (bool, error) {
	if s.uploads == nil {
		return false, nil
	}
	return s.uploads.RemoveUpload(ctx, addr)
}
