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

func (s *Store) TryAcquire(ctx context.Context, resourceID, owner string, expiresAt, now time.Time) (bool, error) {
	query, args := s.dialect.AcquireLease(resourceID, owner, expiresAt.UTC(), now.UTC())
	// already in dialect placeholder format
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if s.dialect.IsUniqueViolation(err) || s.dialect.IsDeadlock(err) {
			// lost a race against a concurrent insert of the same resource
			return false, nil
		}
		return false, types.NewPersistenceError("acquire lease", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewPersistenceError("acquire lease", err)
	}
	return n > 0, nil
}

func (s *Store) Renew(ctx context.Context, resourceID, owner string, expiresAt, now time.Time) (bool, error) {
	n, err := s.execAffected(ctx, "renew lease", `UPDATE resource_locks SET expires_at = $1
		WHERE resource_id = $2 AND owner = $3 AND expires_at > $4`,
		expiresAt.UTC(), resourceID, owner, now.UTC(),
	)
	return n > 0, err
}

func (s *Store) Release(ctx context.Context, resourceID, owner string) (bool, error) {
	n, err := s.execAffected(ctx, "release lease",
		`DELETE FROM resource_locks WHERE resource_id = $1 AND owner = $2`, resourceID, owner)
	return n > 0, err
}

func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := s.execAffected(ctx, "sweep leases",
		`DELETE FROM resource_locks WHERE expires_at <= $1`, now.UTC())
	return int(n), err
}

func (s *Store) GetLease(ctx context.Context, resourceID string) (*types.ResourceLock, error) {
	var l types.ResourceLock
	err := s.queryRow(ctx, `SELECT resource_id, owner, expires_at FROM resource_locks WHERE resource_id = $1`, resourceID).
		Scan(&l.ResourceID, &l.Owner, &l.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFoundError("lease", resourceID)
	}
	if err != nil {
		return nil, types.NewPersistenceError("get lease", err)
	}
	l.ExpiresAt = l.ExpiresAt.UTC()
	return &l, nil
}
