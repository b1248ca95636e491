package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thetvman/couchsync/internal/cache"
	"github.com/thetvman/couchsync/internal/code"
	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/internal/hosttoken"
	"github.com/thetvman/couchsync/internal/repository"
	"github.com/thetvman/couchsync/pkg/pubsub"
)

// memSessionRepo is an in-memory SessionRepository for tests.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	failAll  bool
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("store down")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errors.New("store down")
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) GetByCode(ctx context.Context, c string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errors.New("store down")
	}
	for _, s := range r.sessions {
		if s.Code == c {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *memSessionRepo) UpdatePlayback(ctx context.Context, id string, playbackTime float64, isPlaying bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("store down")
	}
	s, ok := r.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	s.PlaybackTime = playbackTime
	s.IsPlaying = isPlaying
	return nil
}

func (r *memSessionRepo) AdjustParticipants(ctx context.Context, id string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return 0, errors.New("store down")
	}
	s, ok := r.sessions[id]
	if !ok {
		return 0, repository.ErrSessionNotFound
	}
	s.Participants += delta
	return s.Participants, nil
}

func (r *memSessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memSessionRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if s.CreatedAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// memSessionCache is an in-memory SessionCache for tests.
type memSessionCache struct {
	mu      sync.Mutex
	entries map[string]cache.SessionCacheResult
}

func newMemSessionCache() *memSessionCache {
	return &memSessionCache{entries: make(map[string]cache.SessionCacheResult)}
}

func (c *memSessionCache) Get(ctx context.Context, key string) (*cache.SessionCacheResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return &r, nil
}

func (c *memSessionCache) Set(ctx context.Context, key string, result *cache.SessionCacheResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *result
	return nil
}

func (c *memSessionCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memSessionCache) BuildKeyByID(sessionID string) string { return "test:id:" + sessionID }
func (c *memSessionCache) Close() error                         { return nil }

// capturePublisher records every published event.
type capturePublisher struct {
	mu     sync.Mutex
	events []*pubsub.Event
}

func (p *capturePublisher) Publish(ctx context.Context, channel string, event *pubsub.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) last() *pubsub.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

func newTestService(t *testing.T) (WatchService, *memSessionRepo, *capturePublisher) {
	t.Helper()

	repo := newMemSessionRepo()
	pub := &capturePublisher{}
	tokens := hosttoken.NewManager("test-secret", time.Hour)
	svc := NewWatchService(repo, newMemSessionCache(), pub, tokens, 24*time.Hour, 30*time.Second)
	return svc, repo, pub
}

func TestCreateSession(t *testing.T) {
	svc, repo, _ := newTestService(t)

	resp, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/movie/u/p/42.mp4",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if len(resp.Code) != code.Length {
		t.Errorf("code %q has length %d, want %d", resp.Code, len(resp.Code), code.Length)
	}
	if resp.HostToken == "" {
		t.Error("expected a host token")
	}

	stored, err := repo.GetByID(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if stored.Participants != 1 {
		t.Errorf("participants = %d, want 1", stored.Participants)
	}
	if stored.IsPlaying {
		t.Error("new session should not be playing")
	}
	if stored.PlaybackTime != 0 {
		t.Errorf("playbackTime = %v, want 0", stored.PlaybackTime)
	}
}

func TestCreateSessionStoreDown(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.failAll = true

	_, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/s.mp4",
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("CreateSession() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestJoinSessionCaseInsensitive(t *testing.T) {
	svc, _, pub := newTestService(t)

	created, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/s.mp4",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	joined, err := svc.JoinSession(context.Background(), strings.ToLower(created.Code))
	if err != nil {
		t.Fatalf("JoinSession() error = %v", err)
	}

	if joined.ID != created.ID {
		t.Errorf("joined session id = %q, want %q", joined.ID, created.ID)
	}
	if joined.VideoID != "movie-42" {
		t.Errorf("videoID = %q, want movie-42", joined.VideoID)
	}
	if joined.Participants != 2 {
		t.Errorf("participants = %d, want 2", joined.Participants)
	}

	// The join must be broadcast so the waiting host unblocks.
	ev := pub.last()
	if ev == nil || ev.Type != pubsub.EventSessionUpdated {
		t.Fatalf("expected a session_updated event after join, got %+v", ev)
	}
	var payload pubsub.SessionUpdatePayload
	if err := ev.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.Participants != 2 {
		t.Errorf("broadcast participants = %d, want 2", payload.Participants)
	}
}

func TestJoinSessionUnknownCode(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.JoinSession(context.Background(), "K7M3P9"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("JoinSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestJoinSessionStoreErrorLooksLikeNotFound(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.failAll = true

	if _, err := svc.JoinSession(context.Background(), "K7M3P9"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("JoinSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestJoinSessionExpired(t *testing.T) {
	svc, repo, _ := newTestService(t)

	created, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "live",
		VideoID:   "ch-7",
		Title:     "Channel 7",
		StreamURL: "http://example.test/live.m3u8",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	repo.mu.Lock()
	repo.sessions[created.ID].CreatedAt = time.Now().Add(-25 * time.Hour)
	repo.mu.Unlock()

	if _, err := svc.JoinSession(context.Background(), created.Code); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("JoinSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestUpdatePlaybackBroadcasts(t *testing.T) {
	svc, _, pub := newTestService(t)

	created, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/s.mp4",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := svc.UpdatePlayback(context.Background(), created.ID, 123.5, true); err != nil {
		t.Fatalf("UpdatePlayback() error = %v", err)
	}

	ev := pub.last()
	if ev == nil {
		t.Fatal("expected a broadcast event")
	}
	var payload pubsub.SessionUpdatePayload
	if err := ev.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.PlaybackTime != 123.5 || !payload.IsPlaying {
		t.Errorf("payload = {time: %v, playing: %v}, want {123.5, true}", payload.PlaybackTime, payload.IsPlaying)
	}
}

func TestRestartSession(t *testing.T) {
	svc, repo, pub := newTestService(t)

	created, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/s.mp4",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := svc.UpdatePlayback(context.Background(), created.ID, 500, true); err != nil {
		t.Fatalf("UpdatePlayback() error = %v", err)
	}

	if err := svc.RestartSession(context.Background(), created.ID, created.HostToken); err != nil {
		t.Fatalf("RestartSession() error = %v", err)
	}

	stored, _ := repo.GetByID(context.Background(), created.ID)
	if stored.PlaybackTime != 0 || !stored.IsPlaying {
		t.Errorf("after restart: {time: %v, playing: %v}, want {0, true}", stored.PlaybackTime, stored.IsPlaying)
	}

	var payload pubsub.SessionUpdatePayload
	if err := pub.last().UnmarshalPayload(&payload); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if payload.PlaybackTime != 0 || !payload.IsPlaying {
		t.Errorf("restart broadcast = {time: %v, playing: %v}, want {0, true}", payload.PlaybackTime, payload.IsPlaying)
	}
}

func TestRestartSessionRejectsGuests(t *testing.T) {
	svc, _, _ := newTestService(t)

	created, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/s.mp4",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := svc.RestartSession(context.Background(), created.ID, "bogus"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("RestartSession() error = %v, want ErrNotHost", err)
	}

	other, _ := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-43",
		Title:     "Other Movie",
		StreamURL: "http://example.test/o.mp4",
	})
	if err := svc.RestartSession(context.Background(), created.ID, other.HostToken); !errors.Is(err, ErrNotHost) {
		t.Fatalf("RestartSession() with foreign token error = %v, want ErrNotHost", err)
	}
}

func TestLeaveSessionDeletesWhenEmpty(t *testing.T) {
	svc, repo, pub := newTestService(t)

	created, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/s.mp4",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := svc.LeaveSession(context.Background(), created.ID); err != nil {
		t.Fatalf("LeaveSession() error = %v", err)
	}

	if _, err := repo.GetByID(context.Background(), created.ID); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatal("session should be deleted when the last participant leaves")
	}

	ev := pub.last()
	if ev == nil || ev.Type != pubsub.EventSessionDeleted {
		t.Fatalf("expected session_deleted broadcast, got %+v", ev)
	}
}

func TestLeaveSessionKeepsOthers(t *testing.T) {
	svc, repo, _ := newTestService(t)

	created, err := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-42",
		Title:     "Some Movie",
		StreamURL: "http://example.test/s.mp4",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := svc.JoinSession(context.Background(), created.Code); err != nil {
		t.Fatalf("JoinSession() error = %v", err)
	}

	if err := svc.LeaveSession(context.Background(), created.ID); err != nil {
		t.Fatalf("LeaveSession() error = %v", err)
	}

	stored, err := repo.GetByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("session should still exist: %v", err)
	}
	if stored.Participants != 1 {
		t.Errorf("participants = %d, want 1", stored.Participants)
	}
}

func TestSweepExpired(t *testing.T) {
	svc, repo, _ := newTestService(t)

	fresh, _ := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-1",
		Title:     "Fresh",
		StreamURL: "http://example.test/f.mp4",
	})
	stale, _ := svc.CreateSession(context.Background(), &domain.CreateSessionRequest{
		VideoType: "movie",
		VideoID:   "movie-2",
		Title:     "Stale",
		StreamURL: "http://example.test/s.mp4",
	})

	repo.mu.Lock()
	repo.sessions[stale.ID].CreatedAt = time.Now().Add(-25 * time.Hour)
	repo.mu.Unlock()

	removed, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if _, err := repo.GetByID(context.Background(), fresh.ID); err != nil {
		t.Error("fresh session should survive the sweep")
	}
	if _, err := repo.GetByID(context.Background(), stale.ID); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Error("stale session should be swept")
	}
}
