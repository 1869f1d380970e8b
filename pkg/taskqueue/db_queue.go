// Copyright 2025 BeeGate Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlstore "github.com/LeeDigitalWorks/beegate/pkg/store/sql"
	"github.com/LeeDigitalWorks/beegate/pkg/utils"

	"github.com/google/uuid"
)

const (
	// maxDeadlockRetries is the maximum number of attempts for statements
	// that hit a deadlock
	maxDeadlockRetries = 3
	// baseDeadlockBackoff is the base backoff duration for deadlock retries
	baseDeadlockBackoff = 10 * time.Millisecond
)

const taskColumns = `id, type, status, priority, payload, dedupe_key, scheduled_at, started_at,
	completed_at, attempts, max_retries, retry_after, last_error, created_at, updated_at, worker_id`

var _ Queue = (*DBQueue)(nil)

// DBQueue is a database-backed implementation of Queue on the gateway's
// PostgreSQL or MySQL store. Concurrent workers claim tasks with
// FOR UPDATE SKIP LOCKED.
type DBQueue struct {
	db                *sql.DB
	dialect           sqlstore.Dialect
	tableName         string
	visibilityTimeout time.Duration // How long a task can be "running" without a heartbeat
}

// DBQueueConfig configures the database queue.
type DBQueueConfig struct {
	DB                *sql.DB
	Dialect           sqlstore.Dialect
	TableName         string        // Defaults to "tasks"
	VisibilityTimeout time.Duration // Defaults to 5m
}

func NewDBQueue(cfg DBQueueConfig) (*DBQueue, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("sql dialect is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "tasks"
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	return &DBQueue{
		db:                cfg.DB,
		dialect:           cfg.Dialect,
		tableName:         cfg.TableName,
		visibilityTimeout: cfg.VisibilityTimeout,
	}, nil
}

// NewDBQueueFromStore shares the store's connection pool and dialect.
func NewDBQueueFromStore(s *sqlstore.Store, visibility time.Duration) (*DBQueue, error) {
	return NewDBQueue(DBQueueConfig{DB: s.DB(), Dialect: s.Dialect(), VisibilityTimeout: visibility})
}

// q formats a $N-placeholder statement for the table and dialect.
func (q *DBQueue) q(format string) string {
	return q.dialect.ReplacePlaceholders(strings.ReplaceAll(format, "{table}", q.tableName))
}

// withDeadlockRetry retries fn with jittered exponential backoff while the
// database reports a deadlock.
func (q *DBQueue) withDeadlockRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range maxDeadlockRetries {
		err := fn()
		if err == nil || !q.dialect.IsDeadlock(err) {
			return err
		}
		lastErr = err
		DeadlockRetries.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(utils.Backoff(attempt, baseDeadlockBackoff, 8*baseDeadlockBackoff, 0.5)):
		}
	}
	return lastErr
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (q *DBQueue) Enqueue(ctx context.Context, task *Task) error {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	task.UpdatedAt = now
	if len(task.Payload) == 0 {
		task.Payload = []byte(`{}`)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Best effort: two racing enqueues may both pass this check.
	if task.DedupeKey != "" {
		var n int
		err := tx.QueryRowContext(ctx, q.q(`
			SELECT COUNT(*) FROM {table}
			WHERE dedupe_key = $1 AND status IN ('pending', 'running')
		`), task.DedupeKey).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateTask
		}
	}

	_, err = tx.ExecContext(ctx, q.q(`
		INSERT INTO {table} (id, type, status, priority, payload, dedupe_key, scheduled_at,
			attempts, max_retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`),
		task.ID, string(task.Type), string(task.Status), int(task.Priority), string(task.Payload),
		nullString(task.DedupeKey), task.ScheduledAt, task.Attempts, task.MaxRetries,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var task Task
	var payload string
	var dedupeKey, lastError, workerID sql.NullString
	var startedAt, completedAt, retryAfter sql.NullTime

	err := row.Scan(
		&task.ID, &task.Type, &task.Status, &task.Priority, &payload, &dedupeKey,
		&task.ScheduledAt, &startedAt, &completedAt, &task.Attempts, &task.MaxRetries,
		&retryAfter, &lastError, &task.CreatedAt, &task.UpdatedAt, &workerID,
	)
	if err != nil {
		return nil, err
	}

	task.Payload = []byte(payload)
	task.DedupeKey = dedupeKey.String
	task.LastError = lastError.String
	task.WorkerID = workerID.String
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if retryAfter.Valid {
		task.RetryAfter = retryAfter.Time
	}
	return &task, nil
}

func (q *DBQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	var task *Task
	err := q.withDeadlockRetry(ctx, func() error {
		var err error
		task, err = q.dequeueOnce(ctx, workerID, taskTypes...)
		return err
	})
	return task, err
}

func (q *DBQueue) dequeueOnce(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	staleThreshold := now.Add(-q.visibilityTimeout)

	args := []any{now, now, staleThreshold}
	typeFilter := ""
	if len(taskTypes) > 0 {
		placeholders := make([]string, len(taskTypes))
		for i, t := range taskTypes {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		typeFilter = " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}

	// Highest priority, oldest first. Running tasks past the visibility
	// timeout belong to a crashed worker and are reclaimed.
	row := tx.QueryRowContext(ctx, q.q(`
		SELECT `+taskColumns+`
		FROM {table}
		WHERE (
			(status = 'pending' AND scheduled_at <= $1 AND (retry_after IS NULL OR retry_after <= $2))
			OR
			(status = 'running' AND heartbeat_at < $3)
		)`+typeFilter+`
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`), args...)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if task.Status == StatusRunning {
		task.Attempts++
		TaskRetries.WithLabelValues(string(task.Type)).Inc()
	}

	_, err = tx.ExecContext(ctx, q.q(`
		UPDATE {table} SET status = 'running', started_at = $1, heartbeat_at = $2,
			worker_id = $3, attempts = $4, updated_at = $5
		WHERE id = $6
	`), now, now, workerID, task.Attempts, now, task.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task.Status = StatusRunning
	task.StartedAt = &now
	task.WorkerID = workerID
	task.UpdatedAt = now
	return task, nil
}

func (q *DBQueue) execOne(ctx context.Context, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, q.q(query), args...)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (q *DBQueue) Complete(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	return q.execOne(ctx, `
		UPDATE {table} SET status = 'completed', completed_at = $1, updated_at = $2
		WHERE id = $3
	`, now, now, taskID)
}

func (q *DBQueue) Fail(ctx context.Context, taskID string, taskErr error) error {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	task.Attempts++
	task.LastError = taskErr.Error()

	var retryAfter sql.NullTime
	if task.Attempts >= task.MaxRetries {
		task.Status = StatusDeadLetter
	} else {
		task.Status = StatusPending
		retryAfter = nullTime(now.Add(retryBackoff(task.Attempts)))
		TaskRetries.WithLabelValues(string(task.Type)).Inc()
	}

	return q.execOne(ctx, `
		UPDATE {table} SET status = $1, attempts = $2, last_error = $3,
			retry_after = $4, worker_id = NULL, updated_at = $5
		WHERE id = $6
	`, string(task.Status), task.Attempts, task.LastError, retryAfter, now, taskID)
}

func (q *DBQueue) Cancel(ctx context.Context, taskID string) error {
	return q.execOne(ctx, `
		UPDATE {table} SET status = 'cancelled', updated_at = $1
		WHERE id = $2
	`, time.Now().UTC(), taskID)
}

func (q *DBQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	return q.withDeadlockRetry(ctx, func() error {
		now := time.Now().UTC()
		return q.execOne(ctx, `
			UPDATE {table} SET heartbeat_at = $1, updated_at = $2
			WHERE id = $3 AND worker_id = $4 AND status = 'running'
		`, now, now, taskID, workerID)
	})
}

func (q *DBQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	row := q.db.QueryRowContext(ctx, q.q(`SELECT `+taskColumns+` FROM {table} WHERE id = $1`), taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (q *DBQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.DedupeKey != "" {
		add("dedupe_key = $%d", filter.DedupeKey)
	}

	query := `SELECT ` + taskColumns + ` FROM {table}`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := q.db.QueryContext(ctx, q.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (q *DBQueue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{
		ByType: make(map[TaskType]int64),
	}

	rows, err := q.db.QueryContext(ctx, q.q(`SELECT status, COUNT(*) FROM {table} GROUP BY status`))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch TaskStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusDeadLetter:
			stats.DeadLetter = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := q.db.QueryContext(ctx, q.q(`
		SELECT type, COUNT(*) FROM {table} WHERE status = 'pending' GROUP BY type
	`))
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var taskType string
		var count int64
		if err := typeRows.Scan(&taskType, &count); err != nil {
			return nil, err
		}
		stats.ByType[TaskType(taskType)] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullTime
	if err := q.db.QueryRowContext(ctx, q.q(`
		SELECT MIN(scheduled_at) FROM {table} WHERE status = 'pending'
	`)).Scan(&oldest); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestPending = &oldest.Time
	}
	return stats, nil
}

func (q *DBQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	result, err := q.db.ExecContext(ctx, q.q(`
		DELETE FROM {table}
		WHERE status IN ('completed', 'cancelled') AND updated_at < $1
	`), time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// VisibilityTimeout returns the configured visibility timeout.
func (q *DBQueue) VisibilityTimeout() time.Duration {
	return q.visibilityTimeout
}

// Close is a no-op; the connection pool belongs to the store.
func (q *DBQueue) Close() error {
	return nil
}
