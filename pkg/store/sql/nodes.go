// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

const nodeColumns = `id, endpoint, eth_address, overlay, public_key, pss_public_key,
	batch_creation_enabled, created_at, updated_at`

func scanNode(row scanner) (*types.NodeRecord, error) {
	var n types.NodeRecord
	err := row.Scan(
		&n.ID, &n.Endpoint, &n.EthAddress, &n.Overlay, &n.PublicKey, &n.PSSPublicKey,
		&n.BatchCreationEnabled, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	n.UpdatedAt = n.UpdatedAt.UTC()
	return &n, nil
}

func (s *Store) CreateNode(ctx context.Context, node *types.NodeRecord) error {
	_, err := s.exec(ctx, `INSERT INTO nodes (`+nodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		node.ID, node.Endpoint, node.EthAddress, node.Overlay, node.PublicKey, node.PSSPublicKey,
		node.BatchCreationEnabled, node.CreatedAt.UTC(), node.UpdatedAt.UTC(),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return types.NewConflictError("endpoint %s already registered", node.Endpoint)
		}
		return types.NewPersistenceError("create node", err)
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, id string) (*types.NodeRecord, error) {
	n, err := scanNode(s.queryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("node", id)
	}
	if err != nil {
		return nil, types.NewPersistenceError("get node", err)
	}
	return n, nil
}

func (s *Store) UpdateNode(ctx context.Context, node *types.NodeRecord) error {
	res, err := s.exec(ctx, `UPDATE nodes SET endpoint = $1, eth_address = $2, overlay = $3,
		public_key = $4, pss_public_key = $5, batch_creation_enabled = $6, updated_at = $7
		WHERE id = $8`,
		node.Endpoint, node.EthAddress, node.Overlay, node.PublicKey, node.PSSPublicKey,
		node.BatchCreationEnabled, node.UpdatedAt.UTC(), node.ID,
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return types.NewConflictError("endpoint %s already registered", node.Endpoint)
		}
		return types.NewPersistenceError("update node", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports 0 for an unchanged row, so confirm existence.
		if _, err := s.GetNode(ctx, node.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteNode(ctx context.Context, id string) (bool, error) {
	n, err := s.execAffected(ctx, "delete node", `DELETE FROM nodes WHERE id = $1`, id)
	return n > 0, err
}

func (s *Store) ListNodes(ctx context.Context) ([]*types.NodeRecord, error) {
	rows, err := s.query(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY created_at, id`)
	if err != nil {
		return nil, types.NewPersistenceError("list nodes", err)
	}
	defer rows.Close()

	var nodes []*types.NodeRecord
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, types.NewPersistenceError("scan node", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewPersistenceError("list nodes", err)
	}
	return nodes, nil
}
