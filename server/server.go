// Package server exposes the chat engine over HTTP and websocket.
//
// Identity is resolved upstream: the authenticated user ID arrives in the
// X-User-ID header (or the uid query parameter on /ws).
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/engine"
)

// UserHeader carries the authenticated user ID.
const UserHeader = "X-User-ID"

// CharacterSource is the caller's data layer for character records.
// Unknown IDs must yield an error wrapping core.ErrNotFound.
type CharacterSource interface {
	Character(ctx context.Context, id string) (*core.Character, error)
}

// Server routes requests to the engine.
type Server struct {
	engine     *engine.Engine
	characters CharacterSource
	model      string
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server. model is the generation model name, which is part of
// every conversation key.
func New(eng *engine.Engine, characters CharacterSource, model string, opts ...Option) *Server {
	s := &Server{
		engine:     eng,
		characters: characters,
		model:      model,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/chat/:characterId", s.handleChat)
	api.PUT("/character/:characterId/memory", s.handleIndexMemory)

	r.GET("/ws", s.handleWebsocket)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// turnInput resolves the character and builds the engine input.
func (s *Server) turnInput(ctx context.Context, characterID, userID, prompt, route string) (*core.TurnInput, error) {
	character, err := s.characters.Character(ctx, characterID)
	if err != nil {
		return nil, err
	}
	return &core.TurnInput{
		Key: core.ConversationKey{
			CharacterID: character.ID,
			UserID:      userID,
			Model:       s.model,
		},
		Character: character,
		Prompt:    prompt,
		Route:     route,
	}, nil
}
