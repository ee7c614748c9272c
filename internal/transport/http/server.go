// Package http wires the gin router for the public API.
package http

import (
	"github.com/gin-gonic/gin"

	"assistantbot/internal/transport/http/handler"
)

type Handlers struct {
	Health   *handler.HealthHandler
	Chat     *handler.ChatHandler
	Session  *handler.SessionHandler
	Document *handler.DocumentHandler
	Vision   *handler.VisionHandler
}

// NewRouter builds the API router. Vision routes are only registered when a
// classifier is configured.
func NewRouter(h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/healthz", h.Health.Check)

	api := router.Group("/api/v1")
	{
		api.POST("/chat", h.Chat.Chat)
		api.POST("/chat/stream", h.Chat.StreamChat)
		api.GET("/chat/history", h.Chat.History)

		api.POST("/sessions", h.Session.Create)
		api.GET("/sessions", h.Session.List)
		api.PUT("/sessions/:id", h.Session.Rename)
		api.DELETE("/sessions/:id", h.Session.Delete)
		api.DELETE("/sessions", h.Session.Clear)

		api.POST("/documents", h.Document.IndexText)
		api.POST("/documents/upload", h.Document.Upload)
		api.POST("/documents/ingest-url", h.Document.IngestURL)
		api.GET("/documents", h.Document.List)
		api.GET("/documents/stats", h.Document.Stats)
		api.GET("/documents/:id", h.Document.Get)
		api.DELETE("/documents/:id", h.Document.Delete)

		if h.Vision != nil {
			api.POST("/vision/classify", h.Vision.Classify)
		}
	}

	return router
}
