// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlstore "github.com/LeeDigitalWorks/beegate/pkg/store/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBQueue_RequiresConnectionAndDialect(t *testing.T) {
	_, err := NewDBQueue(DBQueueConfig{})
	require.Error(t, err)
}

func TestDBQueue_StatementFormatting(t *testing.T) {
	tests := []struct {
		name    string
		dialect sqlstore.Dialect
		want    string
	}{
		{"postgres", sqlstore.PostgresDialect{}, "SELECT id FROM jobs WHERE id = $1 AND worker_id = $2"},
		{"mysql", sqlstore.MySQLDialect{}, "SELECT id FROM jobs WHERE id = ? AND worker_id = ?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &DBQueue{dialect: tt.dialect, tableName: "jobs"}
			assert.Equal(t, tt.want, q.q("SELECT id FROM {table} WHERE id = $1 AND worker_id = $2"))
		})
	}
}

func TestDBQueue_DeadlockRetry(t *testing.T) {
	q := &DBQueue{dialect: sqlstore.MySQLDialect{}}
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}

	calls := 0
	err := q.withDeadlockRetry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return deadlock
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = q.withDeadlockRetry(context.Background(), func() error {
		calls++
		return deadlock
	})
	assert.ErrorIs(t, err, deadlock)
	assert.Equal(t, maxDeadlockRetries, calls)

	other := errors.New("syntax error")
	calls = 0
	err = q.withDeadlockRetry(context.Background(), func() error {
		calls++
		return other
	})
	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, calls, "only deadlocks are retried")
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 8*time.Second, retryBackoff(3))
	assert.Equal(t, 1024*time.Second, retryBackoff(50), "capped")
}
