// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package events carries node lifecycle notifications from the registry to
// in-process consumers such as the live node pool.
//
// Delivery is at-least-once from the consumer's point of view: a handler may
// see the same event twice (e.g. an explicit eviction followed by the feed
// event) and must be idempotent.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// Kind identifies a lifecycle transition.
type Kind string

const (
	NodeCreated Kind = "node.created"
	NodeUpdated Kind = "node.updated"
	NodeDeleted Kind = "node.deleted"
)

// NodeEvent is emitted after a node record mutation has been persisted.
type NodeEvent struct {
	Kind Kind             `json:"kind"`
	Node types.NodeRecord `json:"node"`
	At   time.Time        `json:"at"`
}

// Handler consumes a lifecycle event.
type Handler func(ctx context.Context, ev NodeEvent) error

type subscription struct {
	name string
	fn   Handler
}

// Feed fans events out to subscribers synchronously, in subscription order.
type Feed struct {
	mu   sync.RWMutex
	subs []subscription
}

func NewFeed() *Feed {
	return &Feed{}
}

// Subscribe registers a handler. Subscribing the same name twice replaces
// the earlier handler.
func (f *Feed) Subscribe(name string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.name == name {
			f.subs[i].fn = h
			return
		}
	}
	f.subs = append(f.subs, subscription{name: name, fn: h})
}

// Unsubscribe removes a handler by name.
func (f *Feed) Unsubscribe(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.name == name {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber. A failing handler does not stop
// delivery to the others; all handler errors are joined.
func (f *Feed) Publish(ctx context.Context, ev NodeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	f.mu.RLock()
	subs := make([]subscription, len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	EventsPublishedTotal.WithLabelValues(string(ev.Kind)).Inc()

	var errs []error
	for _, s := range subs {
		if err := s.fn(ctx, ev); err != nil {
			HandlerErrorsTotal.WithLabelValues(s.name).Inc()
			logger.Warn().
				Err(err).
				Str("handler", s.name).
				Str("kind", string(ev.Kind)).
				Str("node_id", ev.Node.ID).
				Msg("events: handler failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
