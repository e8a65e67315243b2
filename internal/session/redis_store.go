// Package session keeps signed-in principals in Redis, keyed by access token id.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitalik-svt/tomata/internal/errs"
)

// Principal is the authenticated identity behind a token.
type Principal struct {
	Username  string
	Role      string
	CreatedAt time.Time
}

// RedisStore keeps one hash per session under session:<jti>, expiring with the token.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	store := NewRedisStoreWithClient(redis.NewClient(opts))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return store, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "session:"}
}

const (
	fieldUsername  = "username"
	fieldRole      = "role"
	fieldCreatedAt = "created_at"
)

// Save stores the principal until expiresAt.
func (s *RedisStore) Save(ctx context.Context, jti string, principal Principal, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", errs.ErrUnauthorized)
	}
	if principal.CreatedAt.IsZero() {
		principal.CreatedAt = time.Now().UTC()
	}

	key := s.prefix + jti
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUsername, principal.Username,
			fieldRole, principal.Role,
			fieldCreatedAt, principal.CreatedAt.Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", jti, err)
	}
	return nil
}

// Lookup returns errs.ErrUnauthorized for unknown, revoked or expired sessions.
// A session without a role is treated as a viewer.
func (s *RedisStore) Lookup(ctx context.Context, jti string) (Principal, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+jti).Result()
	if err != nil {
		return Principal{}, fmt.Errorf("lookup session %s: %w", jti, err)
	}
	if fields[fieldUsername] == "" {
		return Principal{}, fmt.Errorf("%w: session not found or expired", errs.ErrUnauthorized)
	}

	principal := Principal{Username: fields[fieldUsername], Role: fields[fieldRole]}
	if principal.Role == "" {
		principal.Role = "viewer"
	}
	if raw := fields[fieldCreatedAt]; raw != "" {
		if principal.CreatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Principal{}, fmt.Errorf("session %s created_at: %w", jti, err)
		}
	}
	return principal, nil
}

func (s *RedisStore) Revoke(ctx context.Context, jti string) error {
	if err := s.client.Del(ctx, s.prefix+jti).Err(); err != nil {
		return fmt.Errorf("revoke session %s: %w", jti, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
