// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql provides a dialect-aware SQL implementation of store.Store.
// Queries are written with PostgreSQL placeholders ($1, $2, ...) and rewritten
// for MySQL at execution time.
package sql

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	Name() string

	// ReplacePlaceholders converts $N placeholders to the dialect's format.
	ReplacePlaceholders(query string) string

	// InsertIgnore builds "INSERT ... VALUES (...)" that silently skips rows
	// colliding on conflictColumns.
	InsertIgnore(table, columns, values, conflictColumns string) string

	// AcquireLease returns the statement (in the dialect's placeholder format)
	// and arguments that insert a lease or take over an expired one.
	// RowsAffected > 0 means the caller owns the lease.
	AcquireLease(resourceID, owner string, expiresAt, now time.Time) (string, []any)

	// IsUniqueViolation reports whether err is a duplicate key error.
	IsUniqueViolation(err error) bool

	// IsDeadlock reports whether err is a deadlock or serialization failure.
	IsDeadlock(err error) bool
}

// ============================================================================
// PostgreSQL Dialect
// ============================================================================

type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (PostgresDialect) Name() string {
	return "postgres"
}

func (PostgresDialect) ReplacePlaceholders(query string) string {
	return query
}

func (PostgresDialect) InsertIgnore(table, columns, values, conflictColumns string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING", table, columns, values, conflictColumns)
}

func (PostgresDialect) AcquireLease(resourceID, owner string, expiresAt, now time.Time) (string, []any) {
	return `INSERT INTO resource_locks (resource_id, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (resource_id) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE resource_locks.expires_at <= $4`, []any{resourceID, owner, expiresAt, now}
}

func (PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (PostgresDialect) IsDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40P01" || pgErr.Code == "40001")
}

// ============================================================================
// MySQL Dialect
// ============================================================================

type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (MySQLDialect) Name() string {
	return "mysql"
}

// ReplacePlaceholders rewrites $N to ?. Arguments must be passed in $N order;
// replacing from the highest index down keeps $12 from becoming ?2.
func (MySQLDialect) ReplacePlaceholders(query string) string {
	result := query
	for i := 32; i >= 1; i-- {
		result = strings.ReplaceAll(result, fmt.Sprintf("$%d", i), "?")
	}
	return result
}

func (MySQLDialect) InsertIgnore(table, columns, values, _ string) string {
	return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, columns, values)
}

// AcquireLease assigns owner before expires_at so both IF() tests read the old
// expires_at. Without CLIENT_FOUND_ROWS an unchanged row reports 0 affected.
func (MySQLDialect) AcquireLease(resourceID, owner string, expiresAt, now time.Time) (string, []any) {
	return `INSERT INTO resource_locks (resource_id, owner, expires_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
		owner = IF(expires_at <= ?, VALUES(owner), owner),
		expires_at = IF(expires_at <= ?, VALUES(expires_at), expires_at)`,
		[]any{resourceID, owner, expiresAt, now, now}
}

func (MySQLDialect) IsUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func (MySQLDialect) IsDeadlock(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && (myErr.Number == 1213 || myErr.Number == 1205)
}
