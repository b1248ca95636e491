package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/internal/feed"
	"github.com/thetvman/couchsync/internal/service"
	"github.com/thetvman/couchsync/pkg/log"
	"github.com/thetvman/couchsync/pkg/pubsub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Outbound frame types pushed to connected viewers.
const (
	WSMsgSessionUpdated = "session_updated"
	WSMsgSessionDeleted = "session_deleted"
	WSMsgFeedStatus     = "feed_status"
	WSMsgError          = "error"
)

// Inbound frame types accepted from viewers.
const (
	WSMsgPlayback = "playback"
)

// WSFrame is the envelope for every frame in both directions.
type WSFrame struct {
	Type         string                  `json:"type"`
	Session      *domain.SessionResponse `json:"session,omitempty"`
	Status       string                  `json:"status,omitempty"`
	Reason       string                  `json:"reason,omitempty"`
	PlaybackTime *float64                `json:"playback_time,omitempty"`
	IsPlaying    *bool                   `json:"is_playing,omitempty"`
	Message      string                  `json:"message,omitempty"`
}

// WSHandler relays the session update feed to viewers over WebSocket and
// accepts their playback reports on the same connection.
type WSHandler struct {
	watchService service.WatchService
	bus          pubsub.Subscriber
	feedCfg      feed.Config
	upgrader     websocket.Upgrader
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(watchService service.WatchService, bus pubsub.Subscriber, feedCfg feed.Config) *WSHandler {
	return &WSHandler{
		watchService: watchService,
		bus:          bus,
		feedCfg:      feedCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/sessions/:id", h.HandleSession)
}

// HandleSession upgrades the connection and streams session updates until
// the viewer disconnects or the session is deleted.
func (h *WSHandler) HandleSession(c *gin.Context) {
	sessionID := c.Param("id")
	l := log.Ctx(c.Request.Context()).With().Str(log.FieldSessionID, sessionID).Logger()

	if _, err := h.watchService.GetSession(c.Request.Context(), sessionID); err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := feed.NewSubscriber(h.bus, h.feedCfg)
	defer sub.Unsubscribe()

	statusFrames := make(chan feed.Status, 4)
	sub.OnStatusChange(func(s feed.Status) {
		select {
		case statusFrames <- s:
		default:
		}
	})

	updates, err := sub.Subscribe(ctx, sessionID)
	if err != nil {
		l.Error().Err(err).Msg("feed subscribe failed")
		conn.Close()
		return
	}

	go h.readPump(ctx, cancel, conn, sessionID, &l)
	h.writePump(ctx, conn, updates, statusFrames, &l)
	conn.Close()
}

// readPump consumes viewer frames until the connection drops. The dropped
// connection counts as a leave.
func (h *WSHandler) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sessionID string, l *zerolog.Logger) {
	defer cancel()
	defer func() {
		if err := h.watchService.LeaveSession(context.Background(), sessionID); err != nil {
			l.Warn().Err(err).Msg("leave on disconnect failed")
		}
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Warn().Err(err).Msg("websocket read error")
			}
			return
		}

		var frame WSFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			l.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Type {
		case WSMsgPlayback:
			if frame.PlaybackTime == nil || frame.IsPlaying == nil {
				continue
			}
			if err := h.watchService.UpdatePlayback(ctx, sessionID, *frame.PlaybackTime, *frame.IsPlaying); err != nil {
				l.Warn().Err(err).Msg("playback report rejected")
			}
		default:
			l.Debug().Str("type", frame.Type).Msg("ignoring unknown frame type")
		}
	}
}

// writePump pushes feed updates, status changes, and pings to the viewer.
func (h *WSHandler) writePump(ctx context.Context, conn *websocket.Conn, updates <-chan feed.Update, statusFrames <-chan feed.Status, l *zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				h.writeFrame(conn, &WSFrame{Type: WSMsgFeedStatus, Status: feed.StatusDisconnected.String()}, l)
				return
			}
			var frame WSFrame
			if u.Deleted {
				frame = WSFrame{Type: WSMsgSessionDeleted, Reason: u.Reason}
			} else {
				resp := u.Session.ToResponse()
				frame = WSFrame{Type: WSMsgSessionUpdated, Session: &resp}
			}
			if !h.writeFrame(conn, &frame, l) {
				return
			}
			if u.Deleted {
				return
			}
		case s := <-statusFrames:
			if !h.writeFrame(conn, &WSFrame{Type: WSMsgFeedStatus, Status: s.String()}, l) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) writeFrame(conn *websocket.Conn, frame *WSFrame, l *zerolog.Logger) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		l.Warn().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}
