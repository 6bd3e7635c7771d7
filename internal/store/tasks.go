package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PayloadHash returns the stable hash used for duplicate-submission
// suppression: identical (user, chat, kind, payload) within the dedup
// window resolves to the same task id.
func PayloadHash(payload json.RawMessage) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FindDuplicateTask looks for a non-terminal task with the same
// (user, chat, kind, payload-hash) created within window. Returns
// ErrNotFound if none exists.
func (s *Store) FindDuplicateTask(ctx context.Context, userID, chatID int64, kind TaskKind, payload json.RawMessage, window time.Duration) (*Task, error) {
	hash := PayloadHash(payload)
	cutoff := time.Now().UTC().Add(-window)
	row := s.read.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, message_id, kind, payload, status, result, error, created_at, updated_at
		FROM tasks
		WHERE user_id = ? AND chat_id = ? AND kind = ? AND payload_hash = ?
		  AND status IN ('queued','running') AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, chatID, kind, hash, cutoff,
	)
	return scanTask(row)
}

// CreateTask inserts a new task with status Queued.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("store: task id is required")
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	t.Status = TaskQueued

	_, err := s.write.ExecContext(ctx, `
		INSERT INTO tasks (id, user_id, chat_id, message_id, kind, payload, payload_hash, status, result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`,
		t.ID, t.UserID, t.ChatID, nullableString(t.MessageID), t.Kind, string(t.Payload), PayloadHash(t.Payload), t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.read.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, message_id, kind, payload, status, result, error, created_at, updated_at
		FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// CountQueueDepth returns the number of tasks currently queued.
func (s *Store) CountQueueDepth(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, TaskQueued)
}

// CountRunning returns the number of tasks currently running.
func (s *Store) CountRunning(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, TaskRunning)
}

func (s *Store) countByStatus(ctx context.Context, status TaskStatus) (int, error) {
	var n int
	if err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count tasks: %w", err)
	}
	return n, nil
}

// OldestRunningAge returns the age of the longest-running task, or zero
// if none are running.
func (s *Store) OldestRunningAge(ctx context.Context) (time.Duration, error) {
	var updatedAt sql.NullTime
	err := s.read.QueryRowContext(ctx, `SELECT MIN(updated_at) FROM tasks WHERE status = ?`, TaskRunning).Scan(&updatedAt)
	if err != nil {
		return 0, fmt.Errorf("store: oldest running: %w", err)
	}
	if !updatedAt.Valid {
		return 0, nil
	}
	return time.Since(updatedAt.Time), nil
}

// LeaseNextQueued atomically transitions the oldest queued task to
// Running and returns it, or nil if none is queued. Because SQLite
// serializes all writers, a plain SELECT-then-UPDATE inside a single
// connection is already linearizable across goroutines sharing this
// *Store; callers must not share the underlying write *sql.DB with a
// second writer process.
func (s *Store) LeaseNextQueued(ctx context.Context) (*Task, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: lease begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, chat_id, message_id, kind, payload, status, result, error, created_at, updated_at
		FROM tasks WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1`)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status = 'running', updated_at = ? WHERE id = ? AND status = 'queued'`, now, task.ID)
	if err != nil {
		return nil, fmt.Errorf("store: lease update: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Lost a race with another lease attempt; caller retries next tick.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: lease commit: %w", err)
	}

	task.Status = TaskRunning
	task.UpdatedAt = now
	return task, nil
}

// CompleteTask transitions a running task to a terminal status with
// exactly one of result or errMsg populated (both empty only for
// Canceled).
func (s *Store) CompleteTask(ctx context.Context, id string, status TaskStatus, result json.RawMessage, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("store: complete task: %q is not a terminal status", status)
	}
	now := time.Now().UTC()
	var resultArg any
	if len(result) > 0 {
		resultArg = string(result)
	}
	res, err := s.write.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, error = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('succeeded','failed','canceled','timeout')`,
		status, resultArg, nullableString(errMsg), now, id,
	)
	if err != nil {
		return fmt.Errorf("store: complete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// CancelQueuedForChat transitions every queued task for (user, chat)
// directly to Canceled and returns their ids.
func (s *Store) CancelQueuedForChat(ctx context.Context, userID, chatID int64) ([]string, error) {
	rows, err := s.write.QueryContext(ctx, `SELECT id FROM tasks WHERE user_id = ? AND chat_id = ? AND status = 'queued'`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list queued for cancel: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := s.write.ExecContext(ctx, `UPDATE tasks SET status = 'canceled', updated_at = ? WHERE id = ? AND status = 'queued'`, now, id); err != nil {
			return nil, fmt.Errorf("store: cancel queued task %s: %w", id, err)
		}
	}
	return ids, nil
}

// RunningTasksForChat returns the ids of running tasks for (user, chat),
// used by the worker pool to signal in-flight cancellation.
func (s *Store) RunningTasksForChat(ctx context.Context, userID, chatID int64) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT id FROM tasks WHERE user_id = ? AND chat_id = ? AND status = 'running'`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list running for cancel: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SweepTasks deletes terminal tasks older than maxAge, keeping at most
// maxRows of the most recent terminal tasks.
func (s *Store) SweepTasks(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.write.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('succeeded','failed','canceled','timeout') AND (updated_at < ?
		OR id NOT IN (
			SELECT id FROM tasks WHERE status IN ('succeeded','failed','canceled','timeout')
			ORDER BY updated_at DESC LIMIT ?
		))`, cutoff, maxRows,
	)
	if err != nil {
		return 0, fmt.Errorf("store: sweep tasks: %w", err)
	}
	return res.RowsAffected()
}

func scanTask(row *sql.Row) (*Task, error) {
	t := &Task{}
	var messageID, result, errText sql.NullString
	var payload string
	if err := row.Scan(&t.ID, &t.UserID, &t.ChatID, &messageID, &t.Kind, &payload, &t.Status, &result, &errText, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	t.MessageID = messageID.String
	t.Payload = json.RawMessage(payload)
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	t.Error = errText.String
	return t, nil
}
