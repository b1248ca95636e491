package domain

import (
	"time"
)

// SessionModel is the GORM model for the watch_sessions table. This is the
// one canonical schema; every write path goes through it.
type SessionModel struct {
	ID           string    `gorm:"type:varchar(64);primaryKey"`
	Code         string    `gorm:"type:varchar(6);uniqueIndex;not null"`
	VideoType    string    `gorm:"type:varchar(20);not null"`
	VideoID      string    `gorm:"type:varchar(128);not null"`
	Title        string    `gorm:"type:varchar(200);not null"`
	StreamURL    string    `gorm:"type:text;not null"`
	PlaybackTime float64   `gorm:"not null;default:0"`
	IsPlaying    bool      `gorm:"not null;default:false"`
	Participants int       `gorm:"not null;default:1"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for SessionModel.
func (SessionModel) TableName() string {
	return "watch_sessions"
}

// ToDomain converts SessionModel to domain Session.
func (m *SessionModel) ToDomain() *Session {
	return &Session{
		ID:           m.ID,
		Code:         m.Code,
		VideoType:    VideoType(m.VideoType),
		VideoID:      m.VideoID,
		Title:        m.Title,
		StreamURL:    m.StreamURL,
		PlaybackTime: m.PlaybackTime,
		IsPlaying:    m.IsPlaying,
		Participants: m.Participants,
		CreatedAt:    m.CreatedAt,
	}
}

// SessionToModel converts domain Session to SessionModel.
func SessionToModel(s *Session) *SessionModel {
	return &SessionModel{
		ID:           s.ID,
		Code:         s.Code,
		VideoType:    string(s.VideoType),
		VideoID:      s.VideoID,
		Title:        s.Title,
		StreamURL:    s.StreamURL,
		PlaybackTime: s.PlaybackTime,
		IsPlaying:    s.IsPlaying,
		Participants: s.Participants,
		CreatedAt:    s.CreatedAt,
	}
}
