package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/becomeliminal/nim-companion/core"
	"github.com/becomeliminal/nim-companion/memory"
)

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type chatResponse struct {
	Text     string `json:"text"`
	Seeded   bool   `json:"seeded"`
	Snippets int    `json:"snippets"`
}

type memoryRequest struct {
	Text      string `json:"text"`
	Delimiter string `json:"delimiter"`
}

func (s *Server) handleChat(c *gin.Context) {
	userID := c.GetHeader(UserHeader)
	if userID == "" {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	in, err := s.turnInput(ctx, c.Param("characterId"), userID, req.Prompt, c.Request.URL.Path)
	if err != nil {
		s.writeError(c, err)
		return
	}

	turn, err := s.engine.Chat(ctx, in)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Text:     turn.Response,
		Seeded:   turn.Seeded,
		Snippets: len(turn.Snippets),
	})
}

func (s *Server) handleIndexMemory(c *gin.Context) {
	if c.GetHeader(UserHeader) == "" {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req memoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	character, err := s.characters.Character(ctx, c.Param("characterId"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	delimiter := req.Delimiter
	if delimiter == "" {
		delimiter = memory.DefaultSeedDelimiter
	}
	n, err := s.engine.Memory().IndexBackstory(ctx, character.ID, req.Text, delimiter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"indexed": n})
}

// writeError maps the error taxonomy to a status code. Bodies match the
// plain-text responses clients already handle.
func (s *Server) writeError(c *gin.Context, err error) {
	var rl *core.RateLimitError
	var verr *core.ValidationError
	switch {
	case errors.As(err, &rl):
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(rl.RetryAfter)))
		c.String(http.StatusTooManyRequests, "Rate Limit exceeded")
	case errors.As(err, &verr):
		c.String(http.StatusBadRequest, verr.Error())
	case errors.Is(err, core.ErrNotFound):
		c.String(http.StatusNotFound, "Character not found")
	case errors.Is(err, core.ErrSoftUnavailable):
		s.logger.Warn("long-term memory unavailable", "path", c.Request.URL.Path, "error", err)
		c.String(http.StatusServiceUnavailable, "Memory unavailable")
	default:
		s.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
		c.String(http.StatusInternalServerError, "Internal Error")
	}
}

func retryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}
