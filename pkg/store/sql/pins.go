// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

const pinColumns = `id, reference, state, missing, pinned_count, invalid_count, attempts, created_at, updated_at`

func scanPin(row scanner) (*types.Pin, error) {
	var p types.Pin
	var ref []byte
	var missing string
	err := row.Scan(&p.ID, &ref, &p.State, &missing, &p.PinnedCount, &p.InvalidCount,
		&p.Attempts, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Reference, err = types.AddressFromBytes(ref); err != nil {
		return nil, fmt.Errorf("pin %s reference: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(missing), &p.Missing); err != nil {
		return nil, fmt.Errorf("pin %s missing set: %w", p.ID, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func encodeMissing(missing []types.Address) (string, error) {
	if missing == nil {
		missing = []types.Address{}
	}
	b, err := json.Marshal(missing)
	return string(b), err
}

func (s *Store) CreatePin(ctx context.Context, pin *types.Pin) error {
	missing, err := encodeMissing(pin.Missing)
	if err != nil {
		return types.NewPersistenceError("encode missing set", err)
	}
	_, err = s.exec(ctx, `INSERT INTO pins (`+pinColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pin.ID, pin.Reference.Bytes(), pin.State, missing, pin.PinnedCount, pin.InvalidCount,
		pin.Attempts, pin.CreatedAt.UTC(), pin.UpdatedAt.UTC(),
	)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return types.NewConflictError("pin %s already exists", pin.ID)
		}
		return types.NewPersistenceError("create pin", err)
	}
	return nil
}

func (s *Store) GetPin(ctx context.Context, id string) (*types.Pin, error) {
	p, err := scanPin(s.queryRow(ctx, `SELECT `+pinColumns+` FROM pins WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("pin", id)
	}
	if err != nil {
		return nil, types.NewPersistenceError("get pin", err)
	}
	return p, nil
}

func (s *Store) ListPins(ctx context.Context, state types.PinState, limit int) ([]*types.Pin, error) {
	query := `SELECT ` + pinColumns + ` FROM pins`
	var args []any
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, state)
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, types.NewPersistenceError("list pins", err)
	}
	defer rows.Close()

	var pins []*types.Pin
	for rows.Next() {
		p, err := scanPin(rows)
		if err != nil {
			return nil, types.NewPersistenceError("scan pin", err)
		}
		pins = append(pins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewPersistenceError("list pins", err)
	}
	return pins, nil
}

func (s *Store) FinishPinRun(ctx context.Context, id string, result types.PinResult, now time.Time) error {
	missing, err := encodeMissing(result.Missing)
	if err != nil {
		return types.NewPersistenceError("encode missing set", err)
	}
	n, err := s.execAffected(ctx, "finish pin run", `UPDATE pins SET state = $1, missing = $2,
		pinned_count = $3, invalid_count = $4, attempts = attempts + 1, updated_at = $5
		WHERE id = $6`,
		result.State, missing, result.PinnedCount, result.InvalidCount, now.UTC(), id,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return types.NewNotFoundError("pin", id)
	}
	return nil
}
