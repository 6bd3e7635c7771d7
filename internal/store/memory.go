package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendMemory inserts one short-term conversational turn.
func (s *Store) AppendMemory(ctx context.Context, m *Memory) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.write.ExecContext(ctx, `
		INSERT INTO memories (user_id, chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.UserID, m.ChatID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		m.ID = id
	}
	return nil
}

// RecentMemory returns up to limit turns for (user, chat), oldest-first.
func (s *Store) RecentMemory(ctx context.Context, userID, chatID int64, limit int) ([]*Memory, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT id, user_id, chat_id, role, content, created_at FROM (
			SELECT id, user_id, chat_id, role, content, created_at
			FROM memories WHERE user_id = ? AND chat_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`,
		userID, chatID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent memory: %w", err)
	}
	defer rows.Close()

	var out []*Memory
	for rows.Next() {
		m := &Memory{}
		if err := rows.Scan(&m.ID, &m.UserID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// CountMemory returns the number of short-term turns stored for (user, chat).
func (s *Store) CountMemory(ctx context.Context, userID, chatID int64) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE user_id = ? AND chat_id = ?`, userID, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count memory: %w", err)
	}
	return n, nil
}

// PruneMemory deletes short-term turns for (user, chat) beyond maxAge or
// beyond the maxCount most recent rows, whichever is smaller.
func (s *Store) PruneMemory(ctx context.Context, userID, chatID int64, maxAge time.Duration, maxCount int) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res, err := s.write.ExecContext(ctx, `
		DELETE FROM memories
		WHERE user_id = ? AND chat_id = ?
		AND (created_at < ? OR id NOT IN (
			SELECT id FROM memories WHERE user_id = ? AND chat_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		))`,
		userID, chatID, cutoff, userID, chatID, maxCount,
	)
	if err != nil {
		return 0, fmt.Errorf("store: prune memory: %w", err)
	}
	return res.RowsAffected()
}

// GetLongTermMemory returns the rolling summary for (user, chat), if any.
func (s *Store) GetLongTermMemory(ctx context.Context, userID, chatID int64) (*LongTermMemory, error) {
	row := s.read.QueryRowContext(ctx, `SELECT user_id, chat_id, summary, updated_at FROM long_term_memories WHERE user_id = ? AND chat_id = ?`, userID, chatID)
	ltm := &LongTermMemory{}
	if err := row.Scan(&ltm.UserID, &ltm.ChatID, &ltm.Summary, &ltm.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get long-term memory: %w", err)
	}
	return ltm, nil
}

// UpsertLongTermMemory replaces the rolling summary for (user, chat).
func (s *Store) UpsertLongTermMemory(ctx context.Context, userID, chatID int64, summary string) error {
	now := time.Now().UTC()
	_, err := s.write.ExecContext(ctx, `
		INSERT INTO long_term_memories (user_id, chat_id, summary, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		userID, chatID, summary, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert long-term memory: %w", err)
	}
	return nil
}

// GetPreferences returns all stable preferences for (user, chat).
func (s *Store) GetPreferences(ctx context.Context, userID, chatID int64) ([]*UserPreference, error) {
	rows, err := s.read.QueryContext(ctx, `
		SELECT user_id, chat_id, key, value, confidence, source, updated_at
		FROM user_preferences WHERE user_id = ? AND chat_id = ? ORDER BY key`,
		userID, chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get preferences: %w", err)
	}
	defer rows.Close()

	var out []*UserPreference
	for rows.Next() {
		p := &UserPreference{}
		var source sql.NullString
		if err := rows.Scan(&p.UserID, &p.ChatID, &p.Key, &p.Value, &p.Confidence, &source, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Source = source.String
		out = append(out, p)
	}
	return out, nil
}

// UpsertPreference writes (user, chat, key) only if the incoming
// confidence is >= any existing confidence (last-writer-wins among
// equally confident extractions).
func (s *Store) UpsertPreference(ctx context.Context, p *UserPreference) error {
	now := time.Now().UTC()
	row := s.write.QueryRowContext(ctx, `SELECT confidence FROM user_preferences WHERE user_id = ? AND chat_id = ? AND key = ?`, p.UserID, p.ChatID, p.Key)
	var existing float64
	err := row.Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: check existing preference: %w", err)
	}
	if err == nil && existing > p.Confidence {
		return nil
	}

	_, err = s.write.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, chat_id, key, value, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id, key) DO UPDATE SET
			value = excluded.value, confidence = excluded.confidence, source = excluded.source, updated_at = excluded.updated_at`,
		p.UserID, p.ChatID, p.Key, p.Value, p.Confidence, nullableString(p.Source), now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert preference: %w", err)
	}
	return nil
}
