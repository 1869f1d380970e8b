// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/events"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

// Notification topics.
const (
	TopicPins  = "pins"
	TopicNodes = "nodes"
)

// Publisher delivers an encoded notification.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, topic, key string, data []byte) error
	Close() error
}

// PinOutcome is published after every completed reconciliation run.
type PinOutcome struct {
	PinID        string         `json:"pin_id"`
	Reference    string         `json:"reference"`
	State        types.PinState `json:"state"`
	PinnedCount  int            `json:"pinned_count"`
	InvalidCount int            `json:"invalid_count"`
	MissingCount int            `json:"missing_count"`
	Attempts     int            `json:"attempts"`
	At           time.Time      `json:"at"`
}

// NodeChange mirrors a node lifecycle event.
type NodeChange struct {
	Kind     string    `json:"kind"`
	NodeID   string    `json:"node_id"`
	Endpoint string    `json:"endpoint"`
	At       time.Time `json:"at"`
}

// Notifier fans notifications out to every configured publisher. A nil
// Notifier, or one without publishers, drops everything.
type Notifier struct {
	publishers []Publisher
}

func New(publishers ...Publisher) *Notifier {
	return &Notifier{publishers: publishers}
}

// FromConfig connects every enabled publisher.
func FromConfig(cfg Config) (*Notifier, error) {
	cfg.Validate()

	var pubs []Publisher
	if cfg.Redis.Enabled {
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	if cfg.Kafka.Enabled {
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			for _, prev := range pubs {
				prev.Close()
			}
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return New(pubs...), nil
}

func (n *Notifier) Enabled() bool {
	return n != nil && len(n.publishers) > 0
}

// PinFinished publishes the outcome of a reconciliation run.
func (n *Notifier) PinFinished(ctx context.Context, pin *types.Pin) {
	if !n.Enabled() || pin == nil {
		return
	}
	n.send(ctx, TopicPins, pin.ID, PinOutcome{
		PinID:        pin.ID,
		Reference:    pin.Reference.String(),
		State:        pin.State,
		PinnedCount:  pin.PinnedCount,
		InvalidCount: pin.InvalidCount,
		MissingCount: len(pin.Missing),
		Attempts:     pin.Attempts,
		At:           pin.UpdatedAt,
	})
}

// HandleNodeEvent forwards lifecycle events. Intended to sit behind an
// events.Relay so slow brokers never stall registry operations.
func (n *Notifier) HandleNodeEvent(ctx context.Context, ev events.NodeEvent) error {
	if !n.Enabled() {
		return nil
	}
	n.send(ctx, TopicNodes, ev.Node.ID, NodeChange{
		Kind:     string(ev.Kind),
		NodeID:   ev.Node.ID,
		Endpoint: ev.Node.Endpoint,
		At:       ev.At,
	})
	return nil
}

func (n *Notifier) send(ctx context.Context, topic, key string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		DeliveryErrorsTotal.WithLabelValues("marshal").Inc()
		logger.Warn().Err(err).Str("topic", topic).Msg("notify: failed to marshal notification")
		return
	}

	for _, p := range n.publishers {
		if err := p.Publish(ctx, topic, key, data); err != nil {
			DeliveryErrorsTotal.WithLabelValues(p.Name()).Inc()
			logger.Warn().
				Err(err).
				Str("publisher", p.Name()).
				Str("topic", topic).
				Str("key", key).
				Msg("notify: delivery failed")
			continue
		}
		DeliveredTotal.WithLabelValues(p.Name(), topic).Inc()
	}
}

// Close closes every publisher.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	var errs []error
	for _, p := range n.publishers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
