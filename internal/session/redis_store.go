// Package session provides session storage backends for refresh tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"validai/api/internal/store"
)

// ErrSessionNotFound is returned when a refresh token is unknown, expired
// or revoked.
var ErrSessionNotFound = errors.New("session not found")

const (
	refreshKeyPrefix = "session:refresh:"
	// Applied when the caller passes an expiry in the past.
	fallbackSessionTTL = 30 * 24 * time.Hour
)

// sessionRecord is the JSON value stored per refresh token. Redis key
// expiry handles the session lifetime, so no expiry field is stored.
type sessionRecord struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// RedisStore keeps refresh sessions in Redis, keyed by token hash.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// SaveRefreshSession stores the session under the token hash with a TTL
// matching expiresAt.
func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	payload, err := json.Marshal(sessionRecord{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		IssuedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = fallbackSessionTTL
	}
	if err := s.client.Set(ctx, refreshKeyPrefix+tokenHash, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

// LookupRefreshSession resolves a token hash back to its user.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	raw, err := s.client.Get(ctx, refreshKeyPrefix+tokenHash).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return store.User{}, fmt.Errorf("decode session: %w", err)
	}
	return store.User{
		ID:          record.UserID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
	}, nil
}

// RevokeRefreshSession deletes the session. Revoking an unknown token is
// not an error.
func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, refreshKeyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
