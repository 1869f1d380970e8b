// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"sync"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
)

// Relay decouples slow consumers from the feed through a bounded queue.
// Subscribing a Relay to a Feed makes delivery to its handler asynchronous;
// events are dropped (and counted) when the queue is full.
type Relay struct {
	name    string
	handler Handler
	queue   chan NodeEvent

	wg   sync.WaitGroup
	once sync.Once
}

// NewRelay creates a relay with the given queue size.
func NewRelay(name string, size int, h Handler) *Relay {
	if size <= 0 {
		size = 64
	}
	return &Relay{
		name:    name,
		handler: h,
		queue:   make(chan NodeEvent, size),
	}
}

// Handle enqueues ev. It never blocks and never fails.
func (r *Relay) Handle(_ context.Context, ev NodeEvent) error {
	select {
	case r.queue <- ev:
		RelayQueueDepth.WithLabelValues(r.name).Set(float64(len(r.queue)))
	default:
		RelayDroppedTotal.WithLabelValues(r.name).Inc()
		logger.Warn().
			Str("relay", r.name).
			Str("kind", string(ev.Kind)).
			Msg("events: relay queue full, dropping event")
	}
	return nil
}

// Start drains the queue until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.once.Do(func() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-r.queue:
					RelayQueueDepth.WithLabelValues(r.name).Set(float64(len(r.queue)))
					if err := r.handler(ctx, ev); err != nil {
						HandlerErrorsTotal.WithLabelValues(r.name).Inc()
						logger.Warn().Err(err).Str("relay", r.name).Msg("events: relay handler failed")
					}
				}
			}
		}()
	})
}

// Wait blocks until the drain goroutine exits.
func (r *Relay) Wait() {
	r.wg.Wait()
}
