package domain

import (
	"time"
)

// VideoType identifies the kind of content a session plays.
type VideoType string

const (
	VideoTypeMovie  VideoType = "movie"
	VideoTypeSeries VideoType = "series"
	VideoTypeLive   VideoType = "live"
)

// Session is the shared record all participants of a watch party converge
// toward. Content fields are immutable after creation; playback fields are
// last-write-wins.
type Session struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	VideoType    VideoType `json:"video_type"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	StreamURL    string    `json:"stream_url"`
	PlaybackTime float64   `json:"playback_time"`
	IsPlaying    bool      `json:"is_playing"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExpiresAt returns the instant after which the session is invalid
// regardless of participant count.
func (s *Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// Expired reports whether the session has outlived its TTL.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.After(s.ExpiresAt(ttl))
}

// CreateSessionRequest represents a create session request.
type CreateSessionRequest struct {
	VideoType string `json:"video_type" binding:"required,oneof=movie series live"`
	VideoID   string `json:"video_id" binding:"required,min=1,max=128"`
	Title     string `json:"title" binding:"required,min=1,max=200"`
	StreamURL string `json:"stream_url" binding:"required"`
}

// JoinSessionRequest represents a join-by-code request.
type JoinSessionRequest struct {
	Code string `json:"code" binding:"required"`
}

// UpdatePlaybackRequest carries a participant's outbound playback state.
type UpdatePlaybackRequest struct {
	PlaybackTime *float64 `json:"playback_time" binding:"required,gte=0"`
	IsPlaying    *bool    `json:"is_playing" binding:"required"`
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	VideoType    VideoType `json:"video_type"`
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	StreamURL    string    `json:"stream_url"`
	PlaybackTime float64   `json:"playback_time"`
	IsPlaying    bool      `json:"is_playing"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateSessionResponse is returned to the host after session creation.
// HostToken authorizes host-only operations such as restart-for-everyone.
type CreateSessionResponse struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	HostToken string `json:"host_token"`
}

// ToResponse converts Session to SessionResponse.
func (s *Session) ToResponse() SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		Code:         s.Code,
		VideoType:    s.VideoType,
		VideoID:      s.VideoID,
		Title:        s.Title,
		StreamURL:    s.StreamURL,
		PlaybackTime: s.PlaybackTime,
		IsPlaying:    s.IsPlaying,
		Participants: s.Participants,
		CreatedAt:    s.CreatedAt,
	}
}
