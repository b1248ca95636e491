package repository

import (
	"context"
	"errors"
	"time"

	"github.com/thetvman/couchsync/internal/domain"
)

// ErrSessionNotFound is returned when no session matches the lookup.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository is the persistent session store client. Playback writes
// are unconditional last-write-wins; the participant counter uses a relative
// adjustment so concurrent joins don't clobber each other.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByCode(ctx context.Context, code string) (*domain.Session, error)
	UpdatePlayback(ctx context.Context, id string, playbackTime float64, isPlaying bool) error
	AdjustParticipants(ctx context.Context, id string, delta int) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
