// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package pin reconciles pins: it walks the chunk DAG below a pinned root,
// retains every chunk it can find and records what is still missing.
package pin

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/chunkstore"
	"github.com/LeeDigitalWorks/beegate/pkg/lock"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/notify"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"golang.org/x/sync/errgroup"
)

// ChunkSource resolves chunks and records pin back-references.
type ChunkSource interface {
	Fetch(ctx context.Context, addr types.Address) ([]byte, types.ChunkTier, error)
	Retain(ctx context.Context, chunk *types.Chunk, pinID string) error
	AddPin(ctx context.Context, addr types.Address, pinID string) error
}

var _ ChunkSource = (*chunkstore.Store)(nil)

// Config tunes reconciliation runs.
type Config struct {
	// Concurrency bounds parallel chunk fetches within one run.
	Concurrency int `mapstructure:"concurrency"`

	// LockLease is the lease on pin:<id>, renewed every third of it.
	LockLease time.Duration `mapstructure:"lock_lease"`

	// LockWait is how long a run waits for a busy pin. Zero fails fast.
	LockWait time.Duration `mapstructure:"lock_wait"`

	Policy AcceptancePolicy `mapstructure:"policy"`
}

func DefaultConfig() Config {
	return Config{
		Concurrency: 16,
		LockLease:   time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.LockLease <= 0 {
		c.LockLease = d.LockLease
	}
}

// LockID is the lock resource guarding reconciliation of a pin.
func LockID(pinID string) string {
	return "pin:" + pinID
}

// Reconciler runs pin reconciliation.
type Reconciler struct {
	pins      store.PinStore
	chunks    ChunkSource
	locker    *lock.Locker
	notifier  *notify.Notifier
	decoder   Decoder
	validator Validator
	cfg       Config
	now       func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithDecoder(d Decoder) Option {
	return func(r *Reconciler) {
		r.decoder = d
	}
}

func WithValidator(v Validator) Option {
	return func(r *Reconciler) {
		r.validator = v
	}
}

func WithNotifier(n *notify.Notifier) Option {
	return func(r *Reconciler) {
		r.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

func NewReconciler(pins store.PinStore, chunks ChunkSource, locker *lock.Locker, cfg Config, opts ...Option) *Reconciler {
	cfg.applyDefaults()
	r := &Reconciler{
		pins:      pins,
		chunks:    chunks,
		locker:    locker,
		decoder:   SwarmDecoder{},
		validator: ContentAddressValidator,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reconciles one pin and returns its updated record. A pin that already
// succeeded is returned unchanged. Missing chunks are recorded on the pin,
// not returned as errors. The run fails with a lock error if another run
// holds the pin, and aborts without recording anything if the lease is lost
// or a chunk cannot be retained.
func (r *Reconciler) Run(ctx context.Context, pinID string) (*types.Pin, error) {
	var opts []lock.AcquireOption
	if r.cfg.LockWait > 0 {
		opts = append(opts, lock.WithWait(r.cfg.LockWait))
	}

	var out *types.Pin
	err := r.locker.WithLock(ctx, LockID(pinID), r.cfg.LockLease, func(ctx context.Context) error {
		p, err := r.run(ctx, pinID)
		out = p
		return err
	}, opts...)
	if err != nil {
		result := "error"
		if types.IsCode(err, types.ErrCodeLockConflict) || types.IsCode(err, types.ErrCodeLockTimeout) {
			result = "locked"
		}
		RunsTotal.WithLabelValues(result).Inc()
		return nil, err
	}
	return out, nil
}

func (r *Reconciler) run(ctx context.Context, pinID string) (*types.Pin, error) {
	p, err := r.pins.GetPin(ctx, pinID)
	if err != nil {
		return nil, err
	}
	if p.State == types.PinSucceeded {
		RunsTotal.WithLabelValues("skipped").Inc()
		return p, nil
	}

	start := time.Now()
	w := &walk{r: r, pinID: pinID, visited: map[types.Address]struct{}{}}
	if err := w.traverse(ctx, p.Reference); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	attempts := p.Attempts + 1
	result := types.PinResult{
		State:        r.cfg.Policy.Decide(len(w.missing), attempts),
		Missing:      w.sortedMissing(),
		PinnedCount:  w.pinned,
		InvalidCount: w.invalid,
	}
	now := r.now().UTC().Truncate(time.Microsecond)
	if err := r.pins.FinishPinRun(ctx, pinID, result, now); err != nil {
		return nil, types.NewPersistenceError("finish pin run "+pinID, err)
	}

	p.State = result.State
	p.Missing = result.Missing
	p.PinnedCount = result.PinnedCount
	p.InvalidCount = result.InvalidCount
	p.Attempts = attempts
	p.UpdatedAt = now

	RunsTotal.WithLabelValues(string(p.State)).Inc()
	RunDuration.Observe(time.Since(start).Seconds())
	ChunksTotal.WithLabelValues("pinned").Add(float64(p.PinnedCount))
	ChunksTotal.WithLabelValues("invalid").Add(float64(p.InvalidCount))
	ChunksTotal.WithLabelValues("missing").Add(float64(len(p.Missing)))

	logger.Info().
		Str("pin_id", pinID).
		Str("reference", p.Reference.String()).
		Str("state", string(p.State)).
		Int("pinned", p.PinnedCount).
		Int("invalid", p.InvalidCount).
		Int("missing", len(p.Missing)).
		Int("attempts", p.Attempts).
		Dur("duration", time.Since(start)).
		Msg("pin: reconciliation finished")

	r.notifier.PinFinished(ctx, p)
	return p, nil
}

// walk is the state of one traversal. The DAG is walked level by level; each
// level is fetched in parallel and its children form the next level.
type walk struct {
	r     *Reconciler
	pinID string

	mu      sync.Mutex
	visited map[types.Address]struct{}
	missing []types.Address
	pinned  int
	invalid int
}

func (w *walk) traverse(ctx context.Context, root types.Address) error {
	level := []types.Address{root}
	w.visited[root] = struct{}{}

	for len(level) > 0 {
		var next []types.Address
		var nextMu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.r.cfg.Concurrency)
		for _, addr := range level {
			g.Go(func() error {
				children, err := w.visit(gctx, addr)
				if err != nil {
					return err
				}
				if len(children) > 0 {
					nextMu.Lock()
					next = append(next, children...)
					nextMu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		level = w.unvisited(next)
	}
	return nil
}

// unvisited marks and returns the addresses not seen before in this run.
func (w *walk) unvisited(addrs []types.Address) []types.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := addrs[:0]
	for _, a := range addrs {
		if _, ok := w.visited[a]; ok {
			continue
		}
		w.visited[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// visit fetches, classifies and retains one chunk, returning the children to
// descend into.
func (w *walk) visit(ctx context.Context, addr types.Address) ([]types.Address, error) {
	payload, tier, err := w.r.chunks.Fetch(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !types.IsCode(err, types.ErrCodeNotFound) {
			logger.Debug().Err(err).Str("pin_id", w.pinID).Str("address", addr.String()).
				Msg("pin: chunk unresolvable")
		}
		w.mu.Lock()
		w.missing = append(w.missing, addr)
		w.mu.Unlock()
		return nil, nil
	}

	var children []types.Address
	authentic := w.r.validator.Validate(addr, payload)
	valid := authentic
	if authentic {
		children, err = w.r.decoder.Children(payload)
		if err != nil {
			valid = false
			children = nil
		}
	}
	if !valid {
		logger.Warn().Str("pin_id", w.pinID).Str("address", addr.String()).Str("tier", string(tier)).
			Bool("authentic", authentic).Msg("pin: invalid chunk")
	}

	// Bytes that fail validation are never written; an unauthentic chunk
	// only gains a back-reference when the authoritative tier already holds it.
	switch {
	case authentic:
		err = w.r.chunks.Retain(ctx, &types.Chunk{Address: addr, Payload: payload}, w.pinID)
	case tier == types.TierLocal:
		err = w.r.chunks.AddPin(ctx, addr, w.pinID)
	}
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.pinned++
	if !valid {
		w.invalid++
	}
	w.mu.Unlock()
	return children, nil
}

func (w *walk) sortedMissing() []types.Address {
	out := slices.Clone(w.missing)
	slices.SortFunc(out, types.Address.Compare)
	return out
}
