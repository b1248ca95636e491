package pubsub

import "fmt"

// Channel naming convention for watch-session updates. One channel per
// session keeps the feed filtered at the transport, so a subscriber only
// ever sees records for the session it is attached to.
const ChannelSessionUpdates = "watch:session:%s:updates"

// Event types carried on session channels.
const (
	EventSessionUpdated = "session_updated"
	EventSessionDeleted = "session_deleted"
)

// SessionUpdatesChannel returns the channel name for a session's update feed.
func SessionUpdatesChannel(sessionID string) string {
	return fmt.Sprintf(ChannelSessionUpdates, sessionID)
}

// SessionUpdatePayload is the post-update session record broadcast to every
// participant after a store write. It is the single wire schema for the feed;
// nothing untyped crosses this boundary.
type SessionUpdatePayload struct {
	ID           string  `json:"id"`
	Code         string  `json:"code"`
	VideoType    string  `json:"video_type"`
	VideoID      string  `json:"video_id"`
	Title        string  `json:"title"`
	StreamURL    string  `json:"stream_url"`
	PlaybackTime float64 `json:"playback_time"`
	IsPlaying    bool    `json:"is_playing"`
	Participants int     `json:"participants"`
}

// SessionDeletedPayload is broadcast when a session is removed from the store.
type SessionDeletedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"` // "empty", "expired"
}
