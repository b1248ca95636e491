package service

import (
	"context"

	"github.com/thetvman/couchsync/internal/domain"
)

// WatchService defines the session lifecycle operations: create as host,
// join by code as guest, leave, and the shared playback write path.
type WatchService interface {
	CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.CreateSessionResponse, error)
	JoinSession(ctx context.Context, joinCode string) (*domain.SessionResponse, error)
	GetSession(ctx context.Context, sessionID string) (*domain.SessionResponse, error)
	UpdatePlayback(ctx context.Context, sessionID string, playbackTime float64, isPlaying bool) error
	RestartSession(ctx context.Context, sessionID, hostToken string) error
	LeaveSession(ctx context.Context, sessionID string) error
	SweepExpired(ctx context.Context) (int64, error)
}
