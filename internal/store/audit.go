package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendAudit inserts an append-only audit row.
func (s *Store) AppendAudit(ctx context.Context, ev *AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	var detailArg any
	if len(ev.Detail) > 0 {
		detailArg = string(ev.Detail)
	}
	var userArg any
	if ev.UserID != nil {
		userArg = *ev.UserID
	}
	res, err := s.write.ExecContext(ctx, `
		INSERT INTO audit_logs (timestamp, user_id, action, detail, error)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp, userArg, ev.Action, detailArg, nullableString(ev.Error),
	)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		ev.ID = id
	}
	return nil
}

// SweepAudit deletes audit rows older than maxAge, keeping at most
// maxRows of the most recent rows.
func (s *Store) SweepAudit(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.write.ExecContext(ctx, `
		DELETE FROM audit_logs
		WHERE timestamp < ?
		OR id NOT IN (SELECT id FROM audit_logs ORDER BY timestamp DESC LIMIT ?)`,
		cutoff, maxRows,
	)
	if err != nil {
		return 0, fmt.Errorf("store: sweep audit: %w", err)
	}
	return res.RowsAffected()
}

// RecentAudit returns the most recent audit events, newest first, for
// diagnostics and /v1/health companion views.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]*AuditEvent, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, timestamp, user_id, action, detail, error
		FROM audit_logs ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent audit: %w", err)
	}
	defer rows.Close()

	var out []*AuditEvent
	for rows.Next() {
		ev := &AuditEvent{}
		var userID sql.NullInt64
		var detail, errText sql.NullString
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &userID, &ev.Action, &detail, &errText); err != nil {
			return nil, err
		}
		if userID.Valid {
			v := userID.Int64
			ev.UserID = &v
		}
		if detail.Valid {
			ev.Detail = json.RawMessage(detail.String)
		}
		ev.Error = errText.String
		out = append(out, ev)
	}
	return out, nil
}
