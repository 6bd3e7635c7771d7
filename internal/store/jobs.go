package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateJob inserts a new scheduled job.
func (s *Store) CreateJob(ctx context.Context, j *ScheduledJob) error {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = j.CreatedAt
	if j.Timezone == "" {
		j.Timezone = "UTC"
	}

	var weekday any
	if j.Weekday != nil {
		weekday = int(*j.Weekday)
	}
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (
			id, user_id, chat_id, kind, run_at, time_of_day, weekday, every_minutes, cron_expr,
			timezone, task_kind, task_payload, notify_on_success, notify_on_failure, enabled,
			last_run_at, next_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.UserID, j.ChatID, j.Kind, nullableTime(j.RunAt), nullableString(j.TimeOfDay), weekday,
		nullZero(j.EveryMinutes), nullableString(j.CronExpr), j.Timezone, j.TaskKind, string(j.TaskPayload),
		boolToInt(j.NotifyOnSuccess), boolToInt(j.NotifyOnFailure), boolToInt(j.Enabled),
		nullableTime(j.LastRunAt), j.NextRunAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create job: %w", err)
	}
	return nil
}

// GetJob fetches a scheduled job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.read.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
	return scanJob(row)
}

// DueJobs returns enabled jobs whose next_run_at has passed, oldest-due
// first, capped at limit.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]*ScheduledJob, error) {
	rows, err := s.read.QueryContext(ctx, jobSelect+` WHERE enabled = 1 AND next_run_at <= ? ORDER BY next_run_at ASC LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: due jobs: %w", err)
	}
	defer rows.Close()
	var out []*ScheduledJob
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// ListJobsForChat returns all scheduled jobs for (user, chat).
func (s *Store) ListJobsForChat(ctx context.Context, userID, chatID int64) ([]*ScheduledJob, error) {
	rows, err := s.read.QueryContext(ctx, jobSelect+` WHERE user_id = ? AND chat_id = ? ORDER BY created_at ASC`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()
	var out []*ScheduledJob
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// UpdateJob persists the full row (used after a fire to set
// last_run_at/next_run_at/enabled).
func (s *Store) UpdateJob(ctx context.Context, j *ScheduledJob) error {
	j.UpdatedAt = time.Now().UTC()
	var weekday any
	if j.Weekday != nil {
		weekday = int(*j.Weekday)
	}
	res, err := s.write.ExecContext(ctx, `
		UPDATE scheduled_jobs SET
			run_at = ?, time_of_day = ?, weekday = ?, every_minutes = ?, cron_expr = ?, timezone = ?,
			task_kind = ?, task_payload = ?, notify_on_success = ?, notify_on_failure = ?, enabled = ?,
			last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		nullableTime(j.RunAt), nullableString(j.TimeOfDay), weekday, nullZero(j.EveryMinutes), nullableString(j.CronExpr),
		j.Timezone, j.TaskKind, string(j.TaskPayload), boolToInt(j.NotifyOnSuccess), boolToInt(j.NotifyOnFailure),
		boolToInt(j.Enabled), nullableTime(j.LastRunAt), j.NextRunAt, j.UpdatedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob removes a scheduled job.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJobsForChat removes every scheduled job for (user, chat) and
// returns how many were deleted.
func (s *Store) DeleteJobsForChat(ctx context.Context, userID, chatID int64) (int64, error) {
	res, err := s.write.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	if err != nil {
		return 0, fmt.Errorf("store: delete jobs for chat: %w", err)
	}
	return res.RowsAffected()
}

const jobSelect = `
	SELECT id, user_id, chat_id, kind, run_at, time_of_day, weekday, every_minutes, cron_expr,
		timezone, task_kind, task_payload, notify_on_success, notify_on_failure, enabled,
		last_run_at, next_run_at, created_at, updated_at
	FROM scheduled_jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*ScheduledJob, error) {
	j, err := scanJobGeneric(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func scanJobRows(rows *sql.Rows) (*ScheduledJob, error) {
	return scanJobGeneric(rows)
}

func scanJobGeneric(s rowScanner) (*ScheduledJob, error) {
	j := &ScheduledJob{}
	var runAt, lastRunAt sql.NullTime
	var timeOfDay, cronExpr, taskPayload string
	var weekday sql.NullInt64
	var everyMinutes sql.NullInt64
	var notifySuccess, notifyFailure, enabled int
	if err := s.Scan(
		&j.ID, &j.UserID, &j.ChatID, &j.Kind, &runAt, &timeOfDay, &weekday, &everyMinutes, &cronExpr,
		&j.Timezone, &j.TaskKind, &taskPayload, &notifySuccess, &notifyFailure, &enabled,
		&lastRunAt, &j.NextRunAt, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	if runAt.Valid {
		j.RunAt = &runAt.Time
	}
	if lastRunAt.Valid {
		j.LastRunAt = &lastRunAt.Time
	}
	if weekday.Valid {
		wd := time.Weekday(weekday.Int64)
		j.Weekday = &wd
	}
	j.TimeOfDay = timeOfDay
	j.CronExpr = cronExpr
	j.EveryMinutes = int(everyMinutes.Int64)
	j.TaskPayload = json.RawMessage(taskPayload)
	j.NotifyOnSuccess = notifySuccess != 0
	j.NotifyOnFailure = notifyFailure != 0
	j.Enabled = enabled != 0
	return j, nil
}

func nullZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
