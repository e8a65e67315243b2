package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vitalik-svt/tomata/internal/errs"
)

type UserStore struct {
	db *DB
}

func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUser(ctx context.Context, username string) (User, error) {
	const q = `SELECT username, password_hash, role, created_at FROM users WHERE username = $1`
	var u User
	if err := s.db.Pool.QueryRow(ctx, q, username).Scan(&u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user %s", errs.ErrNotFound, username)
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a user unless the username is taken; created reports which happened.
func (s *UserStore) CreateUser(ctx context.Context, u User) (bool, error) {
	const q = `
INSERT INTO users (username, password_hash, role)
VALUES ($1, $2, $3)
ON CONFLICT (username) DO NOTHING`
	tag, err := s.db.Pool.Exec(ctx, q, u.Username, u.PasswordHash, u.Role)
	if err != nil {
		return false, fmt.Errorf("create user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *UserStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// ListUsers returns every account ordered by name.
func (s *UserStore) ListUsers(ctx context.Context) ([]User, error) {
	const q = `SELECT username, password_hash, role, created_at FROM users ORDER BY username`
	rows, err := s.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("list users: scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// DeleteUser reports whether a row was removed.
func (s *UserStore) DeleteUser(ctx context.Context, username string) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
