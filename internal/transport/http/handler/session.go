package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"assistantbot/internal/app"
	"assistantbot/internal/transport/http/response"
)

type SessionHandler struct {
	sessions *app.SessionService
}

func NewSessionHandler(sessions *app.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req createSessionRequest
	_ = c.ShouldBindJSON(&req) // body is optional

	session, err := h.sessions.Create(c.Request.Context(), req.Title)
	if err != nil {
		response.InternalError(c, "create session failed")
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	response.OK(c, h.sessions.List())
}

type renameRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *SessionHandler) Rename(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "title is required")
		return
	}

	session, err := h.sessions.Rename(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.NotFound(c, response.CodeSessionNotFound, "session not found")
		case errors.Is(err, app.ErrInvalidInput):
			response.BadRequest(c, err.Error())
		default:
			response.InternalError(c, "rename session failed")
		}
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	err := h.sessions.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, app.ErrSessionNotFound) {
			response.NotFound(c, response.CodeSessionNotFound, "session not found")
			return
		}
		response.InternalError(c, "delete session failed")
		return
	}
	response.OK(c, nil)
}

func (h *SessionHandler) Clear(c *gin.Context) {
	cleared, err := h.sessions.ClearAll(c.Request.Context())
	if err != nil {
		response.InternalError(c, "clear sessions failed")
		return
	}
	response.OK(c, gin.H{"cleared_sessions": cleared})
}
