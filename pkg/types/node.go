// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// NodeRecord is the persisted description of a Bee node in the fleet.
type NodeRecord struct {
	ID                   string    `json:"id"`
	Endpoint             string    `json:"endpoint"`
	EthAddress           string    `json:"eth_address,omitempty"`
	Overlay              string    `json:"overlay,omitempty"`
	PublicKey            string    `json:"public_key,omitempty"`
	PSSPublicKey         string    `json:"pss_public_key,omitempty"`
	BatchCreationEnabled bool      `json:"batch_creation_enabled"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NodeHealth is a point-in-time snapshot of a node's liveness.
type NodeHealth struct {
	IsAlive         bool      `json:"is_alive"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	LastErrors      []string  `json:"last_errors,omitempty"`
}

// MaxNodeErrors bounds NodeHealth.LastErrors.
const MaxNodeErrors = 10
