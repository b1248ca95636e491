package cache

import (
	"context"
	"time"

	"github.com/thetvman/couchsync/internal/domain"
)

// SessionCacheResult wraps a cached session snapshot.
type SessionCacheResult struct {
	Session domain.Session `json:"session"`
}

// SessionCache caches session snapshots in front of the repository. Playback
// fields go stale within one feed update, so entries carry a short TTL and
// are invalidated on every write.
type SessionCache interface {
	Get(ctx context.Context, key string) (*SessionCacheResult, error)
	Set(ctx context.Context, key string, result *SessionCacheResult, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildKeyByID(sessionID string) string
	Close() error
}
