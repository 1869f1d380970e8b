// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplacePlaceholders(t *testing.T) {
	t.Parallel()

	query := "UPDATE pins SET a = $1, b = $2 WHERE id = $12"
	assert.Equal(t, query, PostgresDialect{}.ReplacePlaceholders(query))
	assert.Equal(t, "UPDATE pins SET a = ?, b = ? WHERE id = ?", MySQLDialect{}.ReplacePlaceholders(query))
}

func TestInsertIgnore(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"INSERT INTO chunk_pins (address, pin_id) VALUES ($1, $2) ON CONFLICT (address, pin_id) DO NOTHING",
		PostgresDialect{}.InsertIgnore("chunk_pins", "address, pin_id", "$1, $2", "address, pin_id"))
	assert.Equal(t,
		"INSERT IGNORE INTO chunk_pins (address, pin_id) VALUES ($1, $2)",
		MySQLDialect{}.InsertIgnore("chunk_pins", "address, pin_id", "$1, $2", "address, pin_id"))
}

func TestAcquireLeaseArgsMatchPlaceholders(t *testing.T) {
	t.Parallel()

	now := time.Now()
	for _, d := range []Dialect{PostgresDialect{}, MySQLDialect{}} {
		query, args := d.AcquireLease("r", "o", now.Add(time.Minute), now)
		var n int
		if d.Name() == "mysql" {
			n = strings.Count(query, "?")
		} else {
			for i := 1; strings.Contains(query, fmt.Sprintf("$%d", i)); i++ {
				n = i
			}
		}
		assert.Equal(t, n, len(args), d.Name())
	}
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	pgDup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	pgDeadlock := &pgconn.PgError{Code: "40P01"}
	myDup := fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})
	myDeadlock := &mysql.MySQLError{Number: 1213}
	other := errors.New("connection refused")

	pg := PostgresDialect{}
	assert.True(t, pg.IsUniqueViolation(pgDup))
	assert.False(t, pg.IsUniqueViolation(myDup))
	assert.True(t, pg.IsDeadlock(pgDeadlock))
	assert.False(t, pg.IsDeadlock(other))

	my := MySQLDialect{}
	assert.True(t, my.IsUniqueViolation(myDup))
	assert.False(t, my.IsUniqueViolation(pgDup))
	assert.True(t, my.IsDeadlock(myDeadlock))
	assert.False(t, my.IsDeadlock(other))
}

func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	for _, dialect := range []string{"postgres", "mysql"} {
		migrations, err := LoadMigrations(dialect)
		require.NoError(t, err)
		require.NotEmpty(t, migrations)
		assert.Equal(t, 1, migrations[0].Version)
		assert.Equal(t, "init", migrations[0].Name)

		var tables []string
		for _, stmt := range SplitStatements(migrations[0].SQL) {
			if strings.HasPrefix(stmt, "CREATE TABLE") {
				tables = append(tables, strings.Fields(stmt)[5])
			}
		}
		assert.ElementsMatch(t,
			[]string{"nodes", "resource_locks", "chunks", "chunk_pins", "pins", "uploaded_chunks", "tasks"},
			tables, dialect)
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	stmts := SplitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment\n;\nCREATE INDEX i ON a (x);")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}
