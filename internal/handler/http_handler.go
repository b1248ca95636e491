package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/thetvman/couchsync/internal/domain"
	"github.com/thetvman/couchsync/internal/service"
	"github.com/thetvman/couchsync/pkg/log"
	"github.com/thetvman/couchsync/pkg/response"
)

// HostTokenHeader carries the token issued at creation time; required for
// host-only operations.
const HostTokenHeader = "X-Host-Token"

// Handler handles HTTP requests for watch sessions.
type Handler struct {
	watchService service.WatchService
}

// NewHandler creates a new HTTP handler.
func NewHandler(watchService service.WatchService) *Handler {
	return &Handler{watchService: watchService}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.POST("/join", h.JoinSession)
			sessions.GET("/:id", h.GetSession)
			sessions.PATCH("/:id/playback", h.UpdatePlayback)
			sessions.POST("/:id/restart", h.RestartSession)
			sessions.DELETE("/:id/leave", h.LeaveSession)
		}
	}
}

// CreateSession creates a new watch session with the caller as host.
func (h *Handler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create session request")
		response.BadRequest(c, err.Error())
		return
	}

	created, err := h.watchService.CreateSession(ctx, &req)
	if err != nil {
		l.Error().Err(err).Msg("failed to create session")
		response.InternalError(c, "failed to create session")
		return
	}

	response.Created(c, created)
}

// JoinSession joins an existing session by its 6-character code.
func (h *Handler) JoinSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind join request")
		response.BadRequest(c, err.Error())
		return
	}

	session, err := h.watchService.JoinSession(ctx, req.Code)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.NotFound(c, "invalid code")
			return
		}
		l.Error().Err(err).Msg("failed to join session")
		response.InternalError(c, "failed to join session")
		return
	}

	response.Success(c, session)
}

// GetSession returns the current session record.
func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	session, err := h.watchService.GetSession(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		l.Error().Err(err).Str(log.FieldSessionID, c.Param("id")).Msg("failed to get session")
		response.InternalError(c, "failed to get session")
		return
	}

	response.Success(c, session)
}

// UpdatePlayback writes the shared playback state.
func (h *Handler) UpdatePlayback(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.UpdatePlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind playback update")
		response.BadRequest(c, err.Error())
		return
	}

	sessionID := c.Param("id")
	if err := h.watchService.UpdatePlayback(ctx, sessionID, *req.PlaybackTime, *req.IsPlaying); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to update playback")
		response.InternalError(c, "failed to update playback")
		return
	}

	c.Status(http.StatusNoContent)
}

// RestartSession resets playback to the beginning for everyone. Host only.
func (h *Handler) RestartSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	sessionID := c.Param("id")
	token := c.GetHeader(HostTokenHeader)
	if token == "" {
		response.Unauthorized(c, "host token required")
		return
	}

	if err := h.watchService.RestartSession(ctx, sessionID, token); err != nil {
		switch {
		case errors.Is(err, service.ErrNotHost):
			response.Forbidden(c, "host token invalid for this session")
		case errors.Is(err, service.ErrSessionNotFound):
			response.NotFound(c, "session not found")
		default:
			l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to restart session")
			response.InternalError(c, "failed to restart session")
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// LeaveSession removes a participant; the last one out deletes the session.
func (h *Handler) LeaveSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	sessionID := c.Param("id")
	if err := h.watchService.LeaveSession(ctx, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to leave session")
		response.InternalError(c, "failed to leave session")
		return
	}

	c.Status(http.StatusNoContent)
}
