// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/beegate/pkg/types"
)

func (s *Store) EnqueueUpload(ctx context.Context, ref types.UploadedChunkRef) (bool, error) {
	n, err := s.execAffected(ctx, "enqueue upload",
		s.dialect.InsertIgnore("uploaded_chunks", "address, enqueued_at", "$1, $2", "address"),
		ref.Address.Bytes(), ref.EnqueuedAt.UTC(),
	)
	return n > 0, err
}

func (s *Store) ListUploads(ctx context.Context, limit int) ([]types.UploadedChunkRef, error) {
	query := `SELECT address, enqueued_at FROM uploaded_chunks ORDER BY enqueued_at, address`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, types.NewPersistenceError("list uploads", err)
	}
	defer rows.Close()

	var refs []types.UploadedChunkRef
	for rows.Next() {
		var raw []byte
		var ref types.UploadedChunkRef
		if err := rows.Scan(&raw, &ref.EnqueuedAt); err != nil {
			return nil, types.NewPersistenceError("scan upload", err)
		}
		if ref.Address, err = types.AddressFromBytes(raw); err != nil {
			return nil, types.NewPersistenceError("scan upload", err)
		}
		ref.EnqueuedAt = ref.EnqueuedAt.UTC()
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewPersistenceError("list uploads", err)
	}
	return refs, nil
}

func (s *Store) RemoveUpload(ctx context.Context, addr types.Address) (bool, error) {
	n, err := s.execAffected(ctx, "remove upload", `DELETE FROM uploaded_chunks WHERE address = $1`, addr.Bytes())
	return n > 0, err
}
