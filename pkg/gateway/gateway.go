// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway assembles the node pool, lock service, chunk store, pin
// reconciler and background workers into one process, and forwards client
// traffic to healthy Bee nodes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/LeeDigitalWorks/beegate/pkg/cache"
	"github.com/LeeDigitalWorks/beegate/pkg/chunkstore"
	"github.com/LeeDigitalWorks/beegate/pkg/compression"
	"github.com/LeeDigitalWorks/beegate/pkg/debug"
	"github.com/LeeDigitalWorks/beegate/pkg/events"
	"github.com/LeeDigitalWorks/beegate/pkg/lock"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/nodepool"
	"github.com/LeeDigitalWorks/beegate/pkg/notify"
	"github.com/LeeDigitalWorks/beegate/pkg/pin"
	"github.com/LeeDigitalWorks/beegate/pkg/registry"
	"github.com/LeeDigitalWorks/beegate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/store/leveldb"
	"github.com/LeeDigitalWorks/beegate/pkg/store/memory"
	sqlstore "github.com/LeeDigitalWorks/beegate/pkg/store/sql"
	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue"
	"github.com/LeeDigitalWorks/beegate/pkg/taskqueue/handlers"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/redis/go-redis/v9"
)

// Gateway owns every long-lived component. Create with New, run background
// work with Start and release everything with Close.
type Gateway struct {
	cfg Config

	records  store.Store
	sqlStore *sqlstore.Store
	chunkDB  *leveldb.ChunkStore
	legacy   backend.BlobStore
	redis    redis.UniversalClient
	ownRedis bool

	feed       *events.Feed
	relay      *events.Relay
	pool       *nodepool.Pool
	registry   *registry.Registry
	locker     *lock.Locker
	chunks     *chunkstore.Store
	reconciler *pin.Reconciler
	pins       *pin.Service
	buckets    *cache.BucketUsageCache
	notifier   *notify.Notifier
	queue      taskqueue.Queue
	worker     *taskqueue.Worker

	mu        sync.Mutex
	cancel    context.CancelFunc
	loops     sync.WaitGroup
	closeOnce sync.Once
}

type options struct {
	clientFactory nodepool.ClientFactory
	redis         redis.UniversalClient
	records       store.Store
}

// Option customizes New, mostly for tests.
type Option func(*options)

// WithClientFactory replaces the Bee HTTP client used for nodes.
func WithClientFactory(f nodepool.ClientFactory) Option {
	return func(o *options) {
		o.clientFactory = f
	}
}

// WithRedisClient supplies the client used for redis leases. The gateway
// does not close it.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = c
	}
}

// WithRecordStore supplies an already open record store, ignoring
// Config.Store. The gateway closes it.
func WithRecordStore(s store.Store) Option {
	return func(o *options) {
		o.records = s
	}
}

// OpenStore opens the record store named by cfg. The returned sql store is
// nil for the memory driver.
func OpenStore(ctx context.Context, cfg store.Config) (store.Store, *sqlstore.Store, error) {
	switch cfg.Driver {
	case store.DriverMemory, "":
		return memory.New(), nil, nil
	default:
		s, err := sqlstore.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

// New builds the gateway. Nothing runs in the background until Start.
func New(ctx context.Context, cfg Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	g := &Gateway{cfg: cfg}
	if err := g.build(ctx, o); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (g *Gateway) build(ctx context.Context, o *options) error {
	cfg := g.cfg

	if o.records != nil {
		g.records = o.records
		g.sqlStore, _ = o.records.(*sqlstore.Store)
	} else {
		records, sqlStore, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		g.records, g.sqlStore = records, sqlStore
	}
	if g.sqlStore != nil && cfg.AutoMigrate {
		if err := g.sqlStore.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var local store.ChunkStore = g.records
	if cfg.ChunkDir != "" {
		if err := os.MkdirAll(cfg.ChunkDir, 0o755); err != nil {
			return fmt.Errorf("create chunk dir: %w", err)
		}
		codec, _ := compression.ParseAlgorithm(cfg.ChunkCompression)
		db, err := leveldb.Open(cfg.ChunkDir, leveldb.WithCompression(codec))
		if err != nil {
			return err
		}
		g.chunkDB = db
		local = db
	}

	if cfg.Legacy.Type != "" {
		legacy, err := backend.New(ctx, cfg.Legacy)
		if err != nil {
			return fmt.Errorf("open legacy chunk tier: %w", err)
		}
		g.legacy = legacy
	}

	g.feed = events.NewFeed()
	var poolOpts []nodepool.Option
	if o.clientFactory != nil {
		poolOpts = append(poolOpts, nodepool.WithClientFactory(o.clientFactory))
	}
	g.pool = nodepool.New(g.records, cfg.Nodes, poolOpts...)
	g.feed.Subscribe("nodepool", g.pool.HandleNodeEvent)
	g.registry = registry.New(g.records, g.feed)

	var leases store.LeaseStore = g.records
	if cfg.Locks.Backend == LocksRedis {
		g.redis = o.redis
		if g.redis == nil {
			g.redis = redis.NewClient(&redis.Options{
				Addr:     cfg.Locks.Redis.Addr,
				Password: cfg.Locks.Redis.Password,
				DB:       cfg.Locks.Redis.DB,
			})
			g.ownRedis = true
		}
		leases = lock.NewRedisLeases(g.redis, cfg.Locks.Redis.Prefix)
	}
	g.locker = lock.New(leases)

	chunkOpts := []chunkstore.Option{
		chunkstore.WithUploads(g.records),
		chunkstore.WithNodes(g.pool),
	}
	if g.legacy != nil {
		chunkOpts = append(chunkOpts, chunkstore.WithLegacy(g.legacy))
	}
	g.chunks = chunkstore.New(local, cfg.Chunks, chunkOpts...)

	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return fmt.Errorf("notifications: %w", err)
	}
	g.notifier = notifier
	if notifier.Enabled() {
		g.relay = events.NewRelay("notify", 256, notifier.HandleNodeEvent)
		g.feed.Subscribe("notify", g.relay.Handle)
	}

	g.reconciler = pin.NewReconciler(g.records, g.chunks, g.locker, cfg.Pins, pin.WithNotifier(notifier))
	g.pins = pin.NewService(g.records, g.reconciler)
	g.buckets = cache.NewBucketUsageCache(g.pool, cfg.Buckets)

	switch cfg.Tasks.Queue {
	case QueueStore:
		if g.sqlStore == nil {
			return fmt.Errorf("tasks.queue %q needs a sql store", QueueStore)
		}
		q, err := taskqueue.NewDBQueueFromStore(g.sqlStore, cfg.Tasks.VisibilityTimeout)
		if err != nil {
			return err
		}
		g.queue = q
	default:
		g.queue = taskqueue.NewMemoryQueue(taskqueue.WithVisibilityTimeout(cfg.Tasks.VisibilityTimeout))
	}

	hostname, _ := os.Hostname()
	g.worker = taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		Queue:        g.queue,
		PollInterval: cfg.Tasks.PollInterval,
		Concurrency:  cfg.Tasks.Concurrency,
	})
	g.worker.RegisterHandler(handlers.NewPinReconcileHandler(g.reconciler))
	g.worker.RegisterHandler(handlers.NewLockSweepHandler(g.locker))

	logger.Info().
		Str("store", string(cfg.Store.Driver)).
		Bool("leveldb_chunks", g.chunkDB != nil).
		Bool("legacy_tier", g.legacy != nil).
		Str("locks", cfg.Locks.Backend).
		Str("queue", cfg.Tasks.Queue).
		Bool("notifications", notifier.Enabled()).
		Msg("gateway: components initialized")
	return nil
}

// LoadFleet loads the node set and probes every node once, so selection
// works without a running heartbeat.
func (g *Gateway) LoadFleet(ctx context.Context) error {
	if err := g.pool.LoadAll(ctx); err != nil {
		return err
	}
	g.pool.RunHeartbeatCycle(ctx)
	return nil
}

// ResyncNodes reloads the pool from the record store. Nodes added or removed
// by another process become selectable or unselectable here; unchanged nodes
// keep their health.
func (g *Gateway) ResyncNodes(ctx context.Context) error {
	before := g.pool.Len()
	if err := g.pool.LoadAll(ctx); err != nil {
		return err
	}
	if after := g.pool.Len(); after != before {
		logger.Info().Int("before", before).Int("after", after).Msg("gateway: node set changed on resync")
	}
	return nil
}

// Start loads the fleet and starts the heartbeat, the task worker and the
// scheduler loops. They run until Close or ctx is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		return errors.New("gateway already started")
	}

	if err := g.pool.LoadAll(ctx); err != nil {
		return err
	}
	debug.SetReadyCheck(g.pool.IsLoaded)

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel

	if g.relay != nil {
		g.relay.Start(ctx)
	}
	g.pool.StartHeartbeat(ctx, 0)
	g.worker.Start(ctx)

	t := g.cfg.Tasks
	g.every(ctx, "pending_scan", t.PendingScanInterval, func(ctx context.Context) error {
		_, err := g.ScanPending(ctx)
		return err
	})
	g.every(ctx, "lock_sweep", t.LockSweepInterval, g.ScheduleLockSweep)
	g.every(ctx, "task_cleanup", t.CleanupInterval, func(ctx context.Context) error {
		n, err := g.queue.Cleanup(ctx, t.RetainFinished)
		if n > 0 {
			logger.Debug().Int("removed", n).Msg("gateway: cleaned up finished tasks")
		}
		return err
	})
	g.every(ctx, "task_stats", t.StatsInterval, func(ctx context.Context) error {
		_, err := taskqueue.RecordStats(ctx, g.queue)
		return err
	})
	g.every(ctx, "node_resync", t.NodeResyncInterval, g.ResyncNodes)

	logger.Info().Int("nodes", g.pool.Len()).Msg("gateway: started")
	return nil
}

// Close stops background work and releases every resource. Safe to call
// more than once and on a gateway that was never started.
func (g *Gateway) Close() error {
	var errs []error
	g.closeOnce.Do(func() {
		g.mu.Lock()
		cancel := g.cancel
		g.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if g.worker != nil {
			g.worker.Stop()
		}
		g.loops.Wait()
		if g.pool != nil {
			g.pool.StopHeartbeat()
			g.pool.Close()
		}
		if g.relay != nil {
			g.relay.Wait()
		}
		if g.buckets != nil {
			g.buckets.Stop()
		}
		if g.queue != nil {
			errs = append(errs, g.queue.Close())
		}
		errs = append(errs, g.notifier.Close())
		if g.legacy != nil {
			errs = append(errs, g.legacy.Close())
		}
		if g.chunkDB != nil {
			errs = append(errs, g.chunkDB.Close())
		}
		if g.redis != nil && g.ownRedis {
			errs = append(errs, g.redis.Close())
		}
		if g.records != nil {
			errs = append(errs, g.records.Close())
		}
	})
	return errors.Join(errs...)
}

// SubmitPin creates a pending pin for reference and queues its first
// reconciliation.
func (g *Gateway) SubmitPin(ctx context.Context, reference types.Address) (*types.Pin, error) {
	p, err := g.pins.CreatePin(ctx, reference)
	if err != nil {
		return nil, err
	}
	if err := g.enqueueReconcile(ctx, p.ID); err != nil {
		// The pending scan picks it up later.
		logger.Warn().Err(err).Str("pin_id", p.ID).Msg("gateway: failed to queue pin reconciliation")
	}
	return p, nil
}

func (g *Gateway) enqueueReconcile(ctx context.Context, pinID string) error {
	task, err := taskqueue.NewPinReconcileTask(pinID)
	if err != nil {
		return err
	}
	added, err := taskqueue.EnqueueOnce(ctx, g.queue, task)
	if added {
		ScheduledTasksTotal.WithLabelValues(string(taskqueue.TaskTypePinReconcile)).Inc()
	}
	return err
}

func (g *Gateway) Config() Config                   { return g.cfg }
func (g *Gateway) Pool() *nodepool.Pool             { return g.pool }
func (g *Gateway) Registry() *registry.Registry     { return g.registry }
func (g *Gateway) Locker() *lock.Locker             { return g.locker }
func (g *Gateway) Chunks() *chunkstore.Store        { return g.chunks }
func (g *Gateway) Pins() *pin.Service               { return g.pins }
func (g *Gateway) Buckets() *cache.BucketUsageCache { return g.buckets }
func (g *Gateway) Queue() taskqueue.Queue           { return g.queue }
func (g *Gateway) Records() store.Store             { return g.records }
