// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry administers the persisted set of Bee nodes. Every
// successful mutation is announced on the lifecycle feed after it has been
// persisted; delivery is synchronous, so a removed node is evicted from the
// live pool before Remove returns.
package registry

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/beeclient"
	"github.com/LeeDigitalWorks/beegate/pkg/events"
	"github.com/LeeDigitalWorks/beegate/pkg/logger"
	"github.com/LeeDigitalWorks/beegate/pkg/store"
	"github.com/LeeDigitalWorks/beegate/pkg/types"

	"github.com/google/uuid"
)

// NodeSpec describes a node to register.
type NodeSpec struct {
	Endpoint             string `json:"endpoint"`
	EthAddress           string `json:"eth_address,omitempty"`
	Overlay              string `json:"overlay,omitempty"`
	PublicKey            string `json:"public_key,omitempty"`
	PSSPublicKey         string `json:"pss_public_key,omitempty"`
	BatchCreationEnabled bool   `json:"batch_creation_enabled"`
}

// NodeUpdate changes the non-nil fields of a node.
type NodeUpdate struct {
	Endpoint             *string `json:"endpoint,omitempty"`
	EthAddress           *string `json:"eth_address,omitempty"`
	Overlay              *string `json:"overlay,omitempty"`
	PublicKey            *string `json:"public_key,omitempty"`
	PSSPublicKey         *string `json:"pss_public_key,omitempty"`
	BatchCreationEnabled *bool   `json:"batch_creation_enabled,omitempty"`
}

type Registry struct {
	nodes store.NodeStore
	feed  *events.Feed
	now   func() time.Time
}

// New creates a registry. feed may be nil when nothing consumes lifecycle
// events (e.g. one-shot CLI commands).
func New(nodes store.NodeStore, feed *events.Feed) *Registry {
	return &Registry{nodes: nodes, feed: feed, now: time.Now}
}

// Register validates spec and persists a new node with a fresh id.
func (r *Registry) Register(ctx context.Context, spec NodeSpec) (*types.NodeRecord, error) {
	now := r.now().UTC().Truncate(time.Microsecond)
	rec := &types.NodeRecord{
		ID:                   uuid.NewString(),
		Endpoint:             spec.Endpoint,
		EthAddress:           spec.EthAddress,
		Overlay:              spec.Overlay,
		PublicKey:            spec.PublicKey,
		PSSPublicKey:         spec.PSSPublicKey,
		BatchCreationEnabled: spec.BatchCreationEnabled,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := normalize(rec); err != nil {
		return nil, err
	}
	if err := r.nodes.CreateNode(ctx, rec); err != nil {
		return nil, err
	}

	logger.Info().Str("node_id", rec.ID).Str("endpoint", rec.Endpoint).Msg("registry: node registered")
	r.publish(ctx, events.NodeCreated, rec)
	return rec, nil
}

// Update applies u to node id.
func (r *Registry) Update(ctx context.Context, id string, u NodeUpdate) (*types.NodeRecord, error) {
	rec, err := r.nodes.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	apply(&rec.Endpoint, u.Endpoint)
	apply(&rec.EthAddress, u.EthAddress)
	apply(&rec.Overlay, u.Overlay)
	apply(&rec.PublicKey, u.PublicKey)
	apply(&rec.PSSPublicKey, u.PSSPublicKey)
	apply(&rec.BatchCreationEnabled, u.BatchCreationEnabled)
	rec.UpdatedAt = r.now().UTC().Truncate(time.Microsecond)

	if err := normalize(rec); err != nil {
		return nil, err
	}
	if err := r.nodes.UpdateNode(ctx, rec); err != nil {
		return nil, err
	}

	logger.Info().Str("node_id", rec.ID).Str("endpoint", rec.Endpoint).Msg("registry: node updated")
	r.publish(ctx, events.NodeUpdated, rec)
	return rec, nil
}

// Remove deletes node id and evicts it from every subscriber before
// returning. Removing an unknown node is a NotFound error.
func (r *Registry) Remove(ctx context.Context, id string) error {
	rec, err := r.nodes.GetNode(ctx, id)
	if err != nil {
		return err
	}
	found, err := r.nodes.DeleteNode(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return types.NewNotFoundError("node", id)
	}

	logger.Info().Str("node_id", id).Str("endpoint", rec.Endpoint).Msg("registry: node removed")
	r.publish(ctx, events.NodeDeleted, rec)
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (*types.NodeRecord, error) {
	return r.nodes.GetNode(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*types.NodeRecord, error) {
	return r.nodes.ListNodes(ctx)
}

// publish never fails the mutation: the record is already persisted and the
// feed logs handler failures.
func (r *Registry) publish(ctx context.Context, kind events.Kind, rec *types.NodeRecord) {
	if r.feed == nil {
		return
	}
	_ = r.feed.Publish(ctx, events.NodeEvent{Kind: kind, Node: *rec, At: r.now()})
}

func apply[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// normalize validates rec in place, canonicalizing the endpoint and
// lowercasing hex identities.
func normalize(rec *types.NodeRecord) error {
	u, err := beeclient.ParseEndpoint(rec.Endpoint)
	if err != nil {
		return err
	}
	rec.Endpoint = u.String()

	var verr error
	check := func(field string, v *string, lengths ...int) {
		if verr != nil || *v == "" {
			return
		}
		s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(*v)), "0x")
		ok := false
		for _, n := range lengths {
			if len(s) == n {
				ok = true
			}
		}
		if _, err := hex.DecodeString(s); err != nil || !ok {
			verr = types.NewValidationError("invalid %s %q", field, *v)
			return
		}
		*v = s
	}
	check("eth address", &rec.EthAddress, 40)
	check("overlay", &rec.Overlay, 64)
	check("public key", &rec.PublicKey, 66, 130)
	check("pss public key", &rec.PSSPublicKey, 66, 130)
	if verr != nil {
		return verr
	}
	if rec.EthAddress != "" {
		rec.EthAddress = "0x" + rec.EthAddress
	}
	return nil
}
