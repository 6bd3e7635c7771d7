package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetUser fetches a user by external identity.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.read.QueryRowContext(ctx, `SELECT id, role, allow_listed, created_at, last_seen_at FROM users WHERE id = ?`, id)
	u := &User{}
	var allowListed int
	if err := row.Scan(&u.ID, &u.Role, &allowListed, &u.CreatedAt, &u.LastSeenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	u.AllowListed = allowListed != 0
	return u, nil
}

// FindOrCreateUser returns the existing user, or creates a new one with
// RoleUser and AllowListed=false on first contact, updating LastSeenAt.
func (s *Store) FindOrCreateUser(ctx context.Context, id int64) (*User, error) {
	now := time.Now().UTC()
	u, err := s.GetUser(ctx, id)
	if err == nil {
		if _, err := s.write.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, now, id); err != nil {
			return nil, fmt.Errorf("store: touch user: %w", err)
		}
		u.LastSeenAt = now
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	u = &User{ID: id, Role: RoleUser, AllowListed: false, CreatedAt: now, LastSeenAt: now}
	_, err = s.write.ExecContext(ctx, `
		INSERT INTO users (id, role, allow_listed, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Role, boolToInt(u.AllowListed), u.CreatedAt, u.LastSeenAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: create user: %w", err)
	}
	return u, nil
}

// SetUserAllowListed flips the allow-list flag (admin action).
func (s *Store) SetUserAllowListed(ctx context.Context, id int64, allowed bool) error {
	res, err := s.write.ExecContext(ctx, `UPDATE users SET allow_listed = ? WHERE id = ?`, boolToInt(allowed), id)
	if err != nil {
		return fmt.Errorf("store: set allow-listed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserRole changes a user's role (admin action).
func (s *Store) SetUserRole(ctx context.Context, id int64, role Role) error {
	res, err := s.write.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("store: set role: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
