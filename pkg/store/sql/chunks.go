// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

func (s *Store) GetChunk(ctx context.Context, addr types.Address) (*types.Chunk, error) {
	c := &types.Chunk{Address: addr}
	err := s.queryRow(ctx, `SELECT payload, created_at FROM chunks WHERE address = $1`, addr.Bytes()).
		Scan(&c.Payload, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("chunk", addr.String())
	}
	if err != nil {
		return nil, types.NewPersistenceError("get chunk", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()

	rows, err := s.query(ctx, `SELECT pin_id FROM chunk_pins WHERE address = $1 ORDER BY pin_id`, addr.Bytes())
	if err != nil {
		return nil, types.NewPersistenceError("get chunk pins", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pinID string
		if err := rows.Scan(&pinID); err != nil {
			return nil, types.NewPersistenceError("scan chunk pin", err)
		}
		c.Pins = append(c.Pins, pinID)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewPersistenceError("get chunk pins", err)
	}
	return c, nil
}

func (s *Store) CreateChunk(ctx context.Context, chunk *types.Chunk) (bool, error) {
	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	n, err := s.execAffected(ctx, "create chunk",
		s.dialect.InsertIgnore("chunks", "address, payload, created_at", "$1, $2, $3", "address"),
		chunk.Address.Bytes(), chunk.Payload, createdAt.UTC(),
	)
	return n > 0, err
}

func (s *Store) DeleteChunk(ctx context.Context, addr types.Address) (bool, error) {
	n, err := s.execAffected(ctx, "delete chunk", `DELETE FROM chunks WHERE address = $1`, addr.Bytes())
	return n > 0, err
}

// AddChunkPin relies on the chunk_pins primary key for set semantics.
func (s *Store) AddChunkPin(ctx context.Context, addr types.Address, pinID string) error {
	_, err := s.exec(ctx,
		s.dialect.InsertIgnore("chunk_pins", "address, pin_id", "$1, $2", "address, pin_id"),
		addr.Bytes(), pinID,
	)
	if err != nil {
		return types.NewPersistenceError("add chunk pin", err)
	}
	return nil
}
