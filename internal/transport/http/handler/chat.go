package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"assistantbot/internal/app"
	"assistantbot/internal/transport/http/response"
)

type ChatHandler struct {
	chat     *app.ChatService
	sessions *app.SessionService
}

func NewChatHandler(chat *app.ChatService, sessions *app.SessionService) *ChatHandler {
	return &ChatHandler{chat: chat, sessions: sessions}
}

// chatRequest accepts an optional session_id; the first message of a
// conversation may omit it and a session is created for it.
type chatRequest struct {
	SessionID   string `json:"session_id"`
	Text        string `json:"text"`
	Image       string `json:"image"`
	ImageFormat string `json:"image_format"`
}

func (r *chatRequest) toInput() (app.ChatInput, error) {
	input := app.ChatInput{
		SessionID:   r.SessionID,
		Text:        r.Text,
		ImageFormat: r.ImageFormat,
	}
	if r.Image != "" {
		data, err := base64.StdEncoding.DecodeString(r.Image)
		if err != nil {
			return app.ChatInput{}, fmt.Errorf("image is not valid base64")
		}
		input.Image = data
	}
	return input, nil
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	input, err := req.toInput()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	out, err := h.chat.Chat(c.Request.Context(), input)
	if err != nil {
		writeChatError(c, err)
		return
	}
	response.OK(c, gin.H{
		"session_id":     out.SessionID,
		"answer":         out.Answer,
		"rewritten_text": out.RewrittenText,
		"sources":        out.Sources,
	})
}

// StreamChat writes the answer as Server-Sent Events. Each event carries a
// JSON payload; the stream ends after a single done or error event.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	input, err := req.toInput()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	stream, err := h.chat.StreamChat(c.Request.Context(), input)
	if err != nil {
		writeChatError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()

	for event := range stream.Events() {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
			// Client gone; the request context cancellation stops the
			// producer.
			return
		}
		c.Writer.Flush()
	}
}

func (h *ChatHandler) History(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.BadRequest(c, "session_id is required")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	history, err := h.sessions.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, app.ErrSessionNotFound) {
			response.NotFound(c, response.CodeSessionNotFound, "session not found")
			return
		}
		response.InternalError(c, "load history failed")
		return
	}

	views := make([]gin.H, 0, len(history))
	for _, msg := range history {
		view := gin.H{
			"seq":        msg.Seq,
			"role":       msg.Role,
			"content":    msg.Content,
			"created_at": msg.CreatedAt,
		}
		if refs := msg.SourceRefs(); len(refs) > 0 {
			view["sources"] = refs
		}
		if msg.HasImage() {
			view["has_image"] = true
		}
		views = append(views, view)
	}
	response.OK(c, gin.H{"session_id": sessionID, "messages": views})
}

func writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		response.NotFound(c, response.CodeSessionNotFound, "session not found")
	case errors.Is(err, app.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, io.EOF):
		response.BadRequest(c, "request body is empty")
	default:
		response.InternalError(c, "chat failed")
	}
}
