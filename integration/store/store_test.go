//go:build integration

// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"testing"

	"github.com/LeeDigitalWorks/beegate/pkg/store"
	dbsql "github.com/LeeDigitalWorks/beegate/pkg/store/sql"
	"github.com/LeeDigitalWorks/beegate/pkg/store/storetest"

	"github.com/stretchr/testify/require"
)

// Tables are truncated between subtests, so the target database must be dedicated to tests.
func runAgainst(t *testing.T, driver store.Driver, envVar string) {
	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set", envVar)
	}
	ctx := context.Background()

	s, err := dbsql.Open(ctx, store.Config{Driver: driver, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))

	storetest.Run(t, func(t *testing.T) store.Store {
		for _, table := range []string{"chunk_pins", "chunks", "nodes", "resource_locks", "pins", "uploaded_chunks"} {
			_, err := s.DB().ExecContext(ctx, "DELETE FROM "+table)
			require.NoError(t, err)
		}
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	runAgainst(t, store.DriverPostgres, "BEEGATE_TEST_POSTGRES_DSN")
}

func TestMySQLStore(t *testing.T) {
	runAgainst(t, store.DriverMySQL, "BEEGATE_TEST_MYSQL_DSN")
}
