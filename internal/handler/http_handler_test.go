package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thetvman/couchsync/internal/code"
	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/internal/service"
)

// fakeWatchService is a scripted service.WatchService.
type fakeWatchService struct {
	session      *domain.Session
	joinErr      error
	restartErr   error
	lastPlayback struct {
		sessionID string
		time      float64
		playing   bool
	}
}

func (f *fakeWatchService) CreateSession(ctx context.Context, req *domain.CreateSessionRequest) (*domain.CreateSessionResponse, error) {
	return &domain.CreateSessionResponse{ID: "sess-1", Code: "K7M3P9", HostToken: "tok"}, nil
}

func (f *fakeWatchService) JoinSession(ctx context.Context, rawCode string) (*domain.SessionResponse, error) {
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	if code.Normalize(rawCode) != f.session.Code {
		return nil, service.ErrSessionNotFound
	}
	resp := f.session.ToResponse()
	return &resp, nil
}

func (f *fakeWatchService) GetSession(ctx context.Context, sessionID string) (*domain.SessionResponse, error) {
	if f.session == nil || f.session.ID != sessionID {
		return nil, service.ErrSessionNotFound
	}
	resp := f.session.ToResponse()
	return &resp, nil
}

func (f *fakeWatchService) UpdatePlayback(ctx context.Context, sessionID string, playbackTime float64, isPlaying bool) error {
	if f.session == nil || f.session.ID != sessionID {
		return service.ErrSessionNotFound
	}
	f.lastPlayback.sessionID = sessionID
	f.lastPlayback.time = playbackTime
	f.lastPlayback.playing = isPlaying
	return nil
}

func (f *fakeWatchService) RestartSession(ctx context.Context, sessionID, hostToken string) error {
	if f.restartErr != nil {
		return f.restartErr
	}
	if hostToken != "tok" {
		return service.ErrNotHost
	}
	return f.UpdatePlayback(ctx, sessionID, 0, true)
}

func (f *fakeWatchService) LeaveSession(ctx context.Context, sessionID string) error {
	if f.session == nil || f.session.ID != sessionID {
		return service.ErrSessionNotFound
	}
	return nil
}

func (f *fakeWatchService) SweepExpired(ctx context.Context) (int64, error) { return 0, nil }

func setupRouter(t *testing.T) (*gin.Engine, *fakeWatchService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := &fakeWatchService{
		session: &domain.Session{
			ID:           "sess-1",
			Code:         "K7M3P9",
			VideoType:    domain.VideoTypeMovie,
			VideoID:      "movie-42",
			Title:        "Some Movie",
			StreamURL:    "http://example.test/s.mp4",
			Participants: 2,
			CreatedAt:    time.Now(),
		},
	}

	r := gin.New()
	NewHandler(svc).RegisterRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSessionHandler(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]string{
		"video_type": "movie",
		"video_id":   "movie-42",
		"title":      "Some Movie",
		"stream_url": "http://example.test/s.mp4",
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			ID        string `json:"id"`
			Code      string `json:"code"`
			HostToken string `json:"host_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Data.Code != "K7M3P9" || resp.Data.HostToken == "" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCreateSessionHandlerRejectsBadVideoType(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]string{
		"video_type": "podcast",
		"video_id":   "x",
		"title":      "x",
		"stream_url": "http://example.test/x",
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestJoinSessionHandler(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions/join", map[string]string{"code": "k7m3p9"}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Data domain.SessionResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Data.VideoID != "movie-42" || resp.Data.Participants != 2 {
		t.Errorf("joined session = %+v", resp.Data)
	}
}

func TestJoinSessionHandlerInvalidCode(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions/join", map[string]string{"code": "ZZZZZZ"}, nil)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetSessionHandler(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/sessions/sess-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/sessions/missing", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown session", w.Code)
	}
}

func TestUpdatePlaybackHandler(t *testing.T) {
	r, svc := setupRouter(t)

	w := doJSON(t, r, http.MethodPatch, "/api/v1/sessions/sess-1/playback", map[string]interface{}{
		"playback_time": 42.5,
		"is_playing":    true,
	}, nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body: %s", w.Code, w.Body.String())
	}
	if svc.lastPlayback.time != 42.5 || !svc.lastPlayback.playing {
		t.Errorf("recorded playback = %+v", svc.lastPlayback)
	}
}

func TestUpdatePlaybackHandlerRequiresBothFields(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPatch, "/api/v1/sessions/sess-1/playback", map[string]interface{}{
		"playback_time": 42.5,
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRestartSessionHandler(t *testing.T) {
	r, svc := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions/sess-1/restart", nil, map[string]string{
		HostTokenHeader: "tok",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body: %s", w.Code, w.Body.String())
	}
	if svc.lastPlayback.time != 0 || !svc.lastPlayback.playing {
		t.Errorf("restart playback = %+v, want {0, playing}", svc.lastPlayback)
	}
}

func TestRestartSessionHandlerAuth(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions/sess-1/restart", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/sessions/sess-1/restart", nil, map[string]string{
		HostTokenHeader: "wrong",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("status with bad token = %d, want 403", w.Code)
	}
}

func TestLeaveSessionHandler(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodDelete, "/api/v1/sessions/sess-1/leave", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/sessions/missing/leave", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown session", w.Code)
	}
}
