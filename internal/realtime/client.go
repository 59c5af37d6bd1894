package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/internal/sessions"
	"github.com/echosphere/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenValidator resolves a bearer token to the caller.
type TokenValidator func(token string) (userID uuid.UUID, role models.Role, err error)

// Client represents a single WebSocket connection watching a session.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	Role      models.Role
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs authenticates the caller, checks access to the session and runs the client loop.
// Browsers cannot set headers on websocket upgrades, so the token comes as a query parameter.
func ServeWs(hub *Hub, store sessions.Getter, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			response.BadRequest(c, "session_id and token required")
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
		userID, role, err := validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		if _, err := sessions.Authorize(c.Request.Context(), store, sessionID, userID, role); err != nil {
			switch {
			case errors.Is(err, sessions.ErrNotFound):
				response.NotFound(c, "session not found")
			case errors.Is(err, sessions.ErrForbidden):
				response.Forbidden(c, "not your session")
			default:
				response.Internal(c, "failed to load session")
			}
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			UserID:    userID,
			Role:      role,
			hub:       hub,
			conn:      conn,
			send:      make(chan WSMessage, 64),
			logger:    logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

// readPump keeps the connection alive and answers pings. The feed is server-to-client only.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.send)
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if msg.Event == "ping" {
			c.hub.SendToClient(c.SessionID, c.ID, "pong", map[string]int64{"at": time.Now().Unix()})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// EventRecordingStatus is sent whenever a recording of the watched session changes status.
const EventRecordingStatus = "recording_status"

// Publisher is the subset of Hub used to emit session events.
type Publisher interface {
	Publish(sessionID uuid.UUID, event string, payload interface{}) error
}

// StatusPublisher is a recording observer that pushes every persisted transition to the
// session feed.
type StatusPublisher struct {
	pub    Publisher
	logger *zap.Logger
}

// NewStatusPublisher creates the live status observer.
func NewStatusPublisher(pub Publisher, logger *zap.Logger) *StatusPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusPublisher{pub: pub, logger: logger}
}

// RecordingChanged publishes rec's summary as a recording_status event.
func (p *StatusPublisher) RecordingChanged(_ context.Context, rec models.Recording) {
	payload := struct {
		models.RecordingSummary
		ErrorMessage string `json:"error_message,omitempty"`
	}{RecordingSummary: rec.Summary(), ErrorMessage: rec.ErrorMessage}
	if err := p.pub.Publish(rec.SessionID, EventRecordingStatus, payload); err != nil {
		p.logger.Warn("publish recording status failed", zap.String("recording_id", rec.ID.String()), zap.Error(err))
	}
}
