package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/thetvman/couchsync/internal/cache"
	"github.com/thetvman/couchsync/internal/code"
	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/internal/hosttoken"
	"github.com/thetvman/couchsync/internal/repository"
	"github.com/thetvman/couchsync/pkg/log"
	"github.com/thetvman/couchsync/pkg/pubsub"
)

var (
	// ErrSessionNotFound covers both "code never existed" and
	// "expired/deleted"; callers cannot distinguish the two.
	ErrSessionNotFound = errors.New("session not found")

	// ErrStoreUnavailable means the persistence write failed. Fatal only at
	// creation time; playback writes retry on the next tick.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrNotHost means the host token was missing, invalid, or issued for a
	// different session.
	ErrNotHost = errors.New("host token required")
)

// watchServiceImpl implements WatchService.
type watchServiceImpl struct {
	repo       repository.SessionRepository
	cache      cache.SessionCache
	publisher  pubsub.Publisher
	tokens     *hosttoken.Manager
	sessionTTL time.Duration
	cacheTTL   time.Duration
}

// NewWatchService creates a new watch session service.
func NewWatchService(
	repo repository.SessionRepository,
	sessionCache cache.SessionCache,
	publisher pubsub.Publisher,
	tokens *hosttoken.Manager,
	sessionTTL, cacheTTL time.Duration,
) WatchService {
	return &watchServiceImpl{
		repo:       repo,
		cache:      sessionCache,
		publisher:  publisher,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		cacheTTL:   cacheTTL,
	}
}

// CreateSession creates a new session with this caller as host.
func (s *watchServiceImpl) CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.CreateSessionResponse, error) {
	l := log.Ctx(ctx)

	joinCode, err := code.Generate()
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:           uuid.NewString(),
		Code:         joinCode,
		VideoType:    domain.VideoType(req.VideoType),
		VideoID:      req.VideoID,
		Title:        req.Title,
		StreamURL:    req.StreamURL,
		PlaybackTime: 0,
		IsPlaying:    false,
		Participants: 1,
	}

	if err := s.repo.Create(ctx, session); err != nil {
		l.Error().Err(err).Msg("failed to create session")
		return nil, ErrStoreUnavailable
	}

	token, err := s.tokens.Issue(session.ID)
	if err != nil {
		// The session exists; a host without a restart capability is still
		// usable, but surface the failure to the caller.
		l.Error().Err(err).Str(log.FieldSessionID, session.ID).Msg("failed to issue host token")
		return nil, err
	}

	l.Info().
		Str(log.FieldSessionID, session.ID).
		Str(log.FieldSessionCode, session.Code).
		Str(log.FieldVideoID, session.VideoID).
		Msg("watch session created")

	return &domain.CreateSessionResponse{
		ID:        session.ID,
		Code:      session.Code,
		HostToken: token,
	}, nil
}

// JoinSession looks up a session by code and registers one more participant.
// Any miss or store failure collapses to ErrSessionNotFound.
func (s *watchServiceImpl) JoinSession(ctx context.Context, joinCode string) (*domain.SessionResponse, error) {
	l := log.Ctx(ctx)

	canonical := code.Normalize(joinCode)
	if !code.Valid(canonical) {
		return nil, ErrSessionNotFound
	}

	session, err := s.repo.GetByCode(ctx, canonical)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			l.Error().Err(err).Str(log.FieldSessionCode, canonical).Msg("failed to look up session by code")
		}
		return nil, ErrSessionNotFound
	}

	if session.Expired(s.sessionTTL, time.Now()) {
		return nil, ErrSessionNotFound
	}

	count, err := s.repo.AdjustParticipants(ctx, session.ID, 1)
	if err != nil {
		// Best effort: the join still succeeds with a stale count.
		l.Warn().Err(err).Str(log.FieldSessionID, session.ID).Msg("failed to increment participant count")
		count = session.Participants + 1
	}
	session.Participants = count

	s.invalidate(ctx, session.ID)
	s.publishUpdate(ctx, session)

	l.Info().
		Str(log.FieldSessionID, session.ID).
		Int(log.FieldParticipants, session.Participants).
		Msg("participant joined session")

	resp := session.ToResponse()
	return &resp, nil
}

// GetSession returns the current session snapshot.
func (s *watchServiceImpl) GetSession(ctx context.Context, sessionID string) (*domain.SessionResponse, error) {
	l := log.Ctx(ctx)

	key := s.cache.BuildKeyByID(sessionID)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if cached.Session.Expired(s.sessionTTL, time.Now()) {
			return nil, ErrSessionNotFound
		}
		resp := cached.Session.ToResponse()
		return &resp, nil
	}

	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to get session")
		return nil, ErrStoreUnavailable
	}

	if session.Expired(s.sessionTTL, time.Now()) {
		return nil, ErrSessionNotFound
	}

	if err := s.cache.Set(ctx, key, &cache.SessionCacheResult{Session: *session}, s.cacheTTL); err != nil {
		l.Debug().Err(err).Msg("failed to cache session snapshot")
	}

	resp := session.ToResponse()
	return &resp, nil
}

// UpdatePlayback writes the shared playback state and broadcasts the
// post-update record to every subscriber. This is the single write path for
// all playback mutations, restart included.
func (s *watchServiceImpl) UpdatePlayback(ctx context.Context, sessionID string, playbackTime float64, isPlaying bool) error {
	l := log.Ctx(ctx)

	if err := s.repo.UpdatePlayback(ctx, sessionID, playbackTime, isPlaying); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to write playback state")
		return ErrStoreUnavailable
	}

	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		// The write landed; skipping the broadcast just delays convergence
		// until the next update.
		l.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to read back session for broadcast")
		return nil
	}

	s.invalidate(ctx, session.ID)
	s.publishUpdate(ctx, session)
	return nil
}

// RestartSession pushes {playbackTime: 0, isPlaying: true} through the normal
// update path. Only the host may do this.
func (s *watchServiceImpl) RestartSession(ctx context.Context, sessionID, hostToken string) error {
	if err := s.tokens.Verify(hostToken, sessionID); err != nil {
		return ErrNotHost
	}
	return s.UpdatePlayback(ctx, sessionID, 0, true)
}

// LeaveSession decrements the participant count and deletes the session when
// it reaches zero.
func (s *watchServiceImpl) LeaveSession(ctx context.Context, sessionID string) error {
	l := log.Ctx(ctx)

	count, err := s.repo.AdjustParticipants(ctx, sessionID, -1)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to decrement participant count")
		return ErrStoreUnavailable
	}

	if count <= 0 {
		if err := s.repo.Delete(ctx, sessionID); err != nil {
			l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to delete empty session")
			return ErrStoreUnavailable
		}
		s.invalidate(ctx, sessionID)
		s.publishDeleted(ctx, sessionID, "empty")
		l.Info().Str(log.FieldSessionID, sessionID).Msg("session deleted, last participant left")
		return nil
	}

	session, err := s.repo.GetByID(ctx, sessionID)
	if err == nil {
		s.invalidate(ctx, session.ID)
		s.publishUpdate(ctx, session)
	}

	l.Info().Str(log.FieldSessionID, sessionID).Int(log.FieldParticipants, count).Msg("participant left session")
	return nil
}

// SweepExpired removes sessions past their TTL regardless of participant
// count. Intended for a periodic background ticker.
func (s *watchServiceImpl) SweepExpired(ctx context.Context) (int64, error) {
	l := log.Ctx(ctx)

	cutoff := time.Now().Add(-s.sessionTTL)
	removed, err := s.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, ErrStoreUnavailable
	}
	if removed > 0 {
		l.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("expired sessions swept")
	}
	return removed, nil
}

// publishUpdate broadcasts the post-update record on the session's feed
// channel. Feed failures are logged and swallowed; the store remains the
// source of truth.
func (s *watchServiceImpl) publishUpdate(ctx context.Context, session *domain.Session) {
	l := log.Ctx(ctx)

	payload := pubsub.SessionUpdatePayload{
		ID:           session.ID,
		Code:         session.Code,
		VideoType:    string(session.VideoType),
		VideoID:      session.VideoID,
		Title:        session.Title,
		StreamURL:    session.StreamURL,
		PlaybackTime: session.PlaybackTime,
		IsPlaying:    session.IsPlaying,
		Participants: session.Participants,
	}

	event, err := pubsub.NewEvent(pubsub.EventSessionUpdated, session.ID, payload)
	if err != nil {
		l.Error().Err(err).Msg("failed to build session update event")
		return
	}

	if err := s.publisher.Publish(ctx, pubsub.SessionUpdatesChannel(session.ID), event); err != nil {
		l.Warn().Err(err).Str(log.FieldSessionID, session.ID).Msg("failed to publish session update")
	}
}

func (s *watchServiceImpl) publishDeleted(ctx context.Context, sessionID, reason string) {
	l := log.Ctx(ctx)

	event, err := pubsub.NewEvent(pubsub.EventSessionDeleted, sessionID, pubsub.SessionDeletedPayload{
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		l.Error().Err(err).Msg("failed to build session deleted event")
		return
	}

	if err := s.publisher.Publish(ctx, pubsub.SessionUpdatesChannel(sessionID), event); err != nil {
		l.Warn().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to publish session deletion")
	}
}

func (s *watchServiceImpl) invalidate(ctx context.Context, sessionID string) {
	if err := s.cache.Delete(ctx, s.cache.BuildKeyByID(sessionID)); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("failed to invalidate session cache")
	}
}
