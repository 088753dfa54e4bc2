package session

import (
	"context"
	"time"

	"validai/api/internal/store"
)

// PostgresFallback stores refresh sessions in Postgres when Redis is not
// configured. It presents the same interface as RedisStore.
type PostgresFallback struct {
	store *store.PostgresStore
}

func NewPostgresFallback(s *store.PostgresStore) *PostgresFallback {
	return &PostgresFallback{store: s}
}

func (f *PostgresFallback) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return f.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (f *PostgresFallback) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return f.store.LookupRefreshSession(ctx, tokenHash)
}

func (f *PostgresFallback) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return f.store.RevokeRefreshSession(ctx, tokenHash)
}
