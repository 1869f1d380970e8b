// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package lock provides lease-based mutual exclusion over arbitrary resource
// ids, shared by every process using the same lease store.
//
// A lease is taken with a single atomic upsert that treats expired rows as
// free, so a crashed holder is recovered by expiry alone; SweepExpired only
// reclaims storage. Each acquisition gets a fresh owner token, and Renew and
// Release only act while that token still owns the row.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
	"github.com/LeeDigitalWorks/beegate/pkg/utils"

	"github.com/google/uuid"
)

const (
	DefaultInitialBackoff = 25 * time.Millisecond
	DefaultMaxBackoff     = time.Second
	backoffJitter         = 0.2

	releaseTimeout = 5 * time.Second
)

// ErrLeaseLost is returned by Renew once another owner has taken the lease
// or it has expired.
var ErrLeaseLost = errors.New("lease lost")

// Locker acquires leases from a LeaseStore.
type Locker struct {
	leases         store.LeaseStore
	now            func() time.Time
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a Locker.
type Option func(*Locker)

// WithClock overrides the time source used to compute lease expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		l.now = now
	}
}

// WithBackoff sets the retry backoff range used while waiting.
func WithBackoff(initial, max time.Duration) Option {
	return func(l *Locker) {
		l.initialBackoff = initial
		l.maxBackoff = max
	}
}

func New(leases store.LeaseStore, opts ...Option) *Locker {
	l := &Locker{
		leases:         leases,
		now:            time.Now,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type acquireOptions struct {
	wait    bool
	timeout time.Duration
}

// AcquireOption configures a single Acquire call.
type AcquireOption func(*acquireOptions)

// WithWait retries a busy lease with backoff for up to timeout. A zero
// timeout waits until ctx is done.
func WithWait(timeout time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		o.wait = true
		o.timeout = timeout
	}
}

// Acquire takes the lease on resourceID for the given duration.
//
// Without WithWait a busy lease fails immediately with a LockConflict error.
// With WithWait it retries until the timeout elapses (LockTimeout error) or
// ctx is done (ctx.Err()). Store failures are Persistence errors.
func (l *Locker) Acquire(ctx context.Context, resourceID string, lease time.Duration, opts ...AcquireOption) (*Handle, error) {
	if resourceID == "" {
		return nil, types.NewValidationError("resource id is required")
	}
	if lease <= 0 {
		return nil, types.NewValidationError("lease duration must be positive")
	}

	var o acquireOptions
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()
	var deadline time.Time
	if o.wait && o.timeout > 0 {
		deadline = start.Add(o.timeout)
	}

	owner := uuid.NewString()
	for attempt := 0; ; attempt++ {
		now := l.now()
		expiresAt := now.Add(lease)
		ok, err := l.leases.TryAcquire(ctx, resourceID, owner, expiresAt, now)
		if err != nil {
			AcquireTotal.WithLabelValues("error").Inc()
			return nil, types.NewPersistenceError("acquire lease "+resourceID, err)
		}
		if ok {
			AcquireTotal.WithLabelValues("acquired").Inc()
			AcquireWaitDuration.Observe(time.Since(start).Seconds())
			return &Handle{locker: l, resourceID: resourceID, owner: owner, expiresAt: expiresAt, acquiredAt: time.Now()}, nil
		}

		if !o.wait {
			AcquireTotal.WithLabelValues("conflict").Inc()
			return nil, types.NewLockConflictError(resourceID)
		}

		delay := utils.Backoff(attempt, l.initialBackoff, l.maxBackoff, backoffJitter)
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				AcquireTotal.WithLabelValues("timeout").Inc()
				return nil, types.NewLockTimeoutError(resourceID, nil)
			}
			delay = min(delay, remaining)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			AcquireTotal.WithLabelValues("cancelled").Inc()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// WithLock runs fn while holding the lease on resourceID, renewing it in the
// background every third of the lease. The context passed to fn is cancelled
// if the lease is lost. The lease is released on every return path.
func (l *Locker) WithLock(ctx context.Context, resourceID string, lease time.Duration, fn func(ctx context.Context) error, opts ...AcquireOption) error {
	h, err := l.Acquire(ctx, resourceID, lease, opts...)
	if err != nil {
		return err
	}
	defer h.Release(ctx)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	lost, stop := h.KeepAlive(runCtx, lease/3, lease)
	defer stop()
	go func() {
		select {
		case <-lost:
			cancel(ErrLeaseLost)
		case <-runCtx.Done():
		}
	}()

	if err := fn(runCtx); err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, ErrLeaseLost) {
			return errors.Join(err, cause)
		}
		return err
	}
	return nil
}

// SweepExpired deletes leases whose expiry has passed and returns how many
// were removed.
func (l *Locker) SweepExpired(ctx context.Context) (int, error) {
	n, err := l.leases.SweepExpired(ctx, l.now())
	if err != nil {
		return 0, types.NewPersistenceError("sweep leases", err)
	}
	SweptTotal.Add(float64(n))
	if n > 0 {
		logger.Info().Int("deleted", n).Msg("lock: swept expired leases")
	}
	return n, nil
}

// Handle is a held lease.
type Handle struct {
	locker     *Locker
	resourceID string
	owner      string
	acquiredAt time.Time

	mu        sync.Mutex
	expiresAt time.Time
	released  bool
}

func (h *Handle) ResourceID() string {
	return h.resourceID
}

// Owner is the token identifying this acquisition.
func (h *Handle) Owner() string {
	return h.owner
}

// ExpiresAt is the expiry last written by this holder.
func (h *Handle) ExpiresAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.expiresAt
}

// Renew moves the expiry to now+extension. It returns ErrLeaseLost if the
// lease expired or changed hands.
func (h *Handle) Renew(ctx context.Context, extension time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrLeaseLost
	}

	now := h.locker.now()
	expiresAt := now.Add(extension)
	ok, err := h.locker.leases.Renew(ctx, h.resourceID, h.owner, expiresAt, now)
	if err != nil {
		return types.NewPersistenceError("renew lease "+h.resourceID, err)
	}
	if !ok {
		LostTotal.Inc()
		return ErrLeaseLost
	}
	h.expiresAt = expiresAt
	return nil
}

// KeepAlive renews the lease every interval until stop is called or ctx is
// done. The returned channel is closed if the lease is lost. Transient store
// errors are retried on the next tick.
func (h *Handle) KeepAlive(ctx context.Context, every, extension time.Duration) (lost <-chan struct{}, stop func()) {
	if every <= 0 {
		every = extension / 3
	}
	lostCh := make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := h.Renew(ctx, extension)
				if err == nil {
					continue
				}
				if errors.Is(err, ErrLeaseLost) {
					logger.Warn().Str("resource_id", h.resourceID).Msg("lock: lease lost")
					close(lostCh)
					return
				}
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Str("resource_id", h.resourceID).Msg("lock: renew failed, retrying")
			}
		}
	}()

	return lostCh, func() {
		cancel()
		<-done
	}
}

// Release deletes the lease if this handle still owns it. Releasing a lease
// that was already reclaimed, or releasing twice, is a no-op. Release runs
// even when ctx is already cancelled.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	HeldDuration.Observe(time.Since(h.acquiredAt).Seconds())
	if _, err := h.locker.leases.Release(ctx, h.resourceID, h.owner); err != nil {
		logger.Warn().Err(err).Str("resource_id", h.resourceID).Msg("lock: release failed, lease will expire")
		return types.NewPersistenceError("release lease "+h.resourceID, err)
	}
	return nil
}
