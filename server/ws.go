package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-companion/core"
)

const (
	wsReadLimit   = 64 * 1024
	wsIdleTimeout = 60 * time.Second
	wsWriteWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	// Browsers connect from the web app's origin; auth is by user header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

var activeConnections atomic.Int64

// Client frames.
type wsRequest struct {
	Type        string `json:"type"` // "chat" or "ping"
	CharacterID string `json:"character_id,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// Server frames. A chat produces zero or more "delta" frames followed by
// one "reply" or "error" frame.
type wsResponse struct {
	Type       string `json:"type"` // "delta", "reply", "error", "pong"
	Data       string `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

func (s *Server) handleWebsocket(c *gin.Context) {
	userID := c.GetHeader(UserHeader)
	if userID == "" {
		userID = c.Query("uid")
	}
	if userID == "" {
		c.String(http.StatusUnauthorized, "Unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	active := activeConnections.Add(1)
	logger := s.logger.With("user_id", userID, "remote", c.ClientIP())
	logger.Info("websocket connected", "active", active)
	defer func() {
		conn.Close()
		logger.Info("websocket closed", "active", activeConnections.Add(-1))
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if !s.send(conn, wsResponse{Type: "error", Message: "invalid frame"}) {
				return
			}
			continue
		}

		var ok bool
		switch req.Type {
		case "ping":
			ok = s.send(conn, wsResponse{Type: "pong", Timestamp: time.Now().UnixMilli()})
		case "chat", "":
			ok = s.chatFrame(c, conn, userID, req)
		default:
			ok = s.send(conn, wsResponse{Type: "error", Message: "unknown frame type"})
		}
		if !ok {
			return
		}
	}
}

// chatFrame runs one turn. It reports false once the connection is unusable.
func (s *Server) chatFrame(c *gin.Context, conn *websocket.Conn, userID string, req wsRequest) bool {
	ctx := c.Request.Context()
	route := "/api/chat/" + req.CharacterID

	in, err := s.turnInput(ctx, req.CharacterID, userID, req.Prompt, route)
	if err != nil {
		return s.send(conn, s.errorFrame(err))
	}

	alive := true
	turn, err := s.engine.ChatStream(ctx, in, func(delta string) {
		if alive {
			alive = s.send(conn, wsResponse{Type: "delta", Data: delta})
		}
	})
	if !alive {
		return false
	}
	if err != nil {
		return s.send(conn, s.errorFrame(err))
	}
	return s.send(conn, wsResponse{Type: "reply", Data: turn.Response})
}

func (s *Server) errorFrame(err error) wsResponse {
	var rl *core.RateLimitError
	var verr *core.ValidationError
	switch {
	case errors.As(err, &rl):
		return wsResponse{Type: "error", Message: "Rate Limit exceeded", RetryAfter: retryAfterSeconds(rl.RetryAfter)}
	case errors.As(err, &verr):
		return wsResponse{Type: "error", Message: verr.Error()}
	case errors.Is(err, core.ErrNotFound):
		return wsResponse{Type: "error", Message: "Character not found"}
	default:
		s.logger.Error("websocket turn failed", "error", err)
		return wsResponse{Type: "error", Message: "Internal Error"}
	}
}

func (s *Server) send(conn *websocket.Conn, frame wsResponse) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		s.logger.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}
