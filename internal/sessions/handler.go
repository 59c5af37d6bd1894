package sessions

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/middleware"
	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/pkg/response"
)

// Getter loads a session by id.
type Getter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Store is the session persistence the handler needs.
type Store interface {
	Getter
	Create(ctx context.Context, s *models.Session) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Session, error)
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	RoomName string `json:"room_name" binding:"omitempty,max=255"`
}

// UpdateStatusRequest is the body for PATCH /sessions/:id.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active completed failed"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Authorize loads the session and checks the caller owns it (admins may access any session).
func Authorize(ctx context.Context, store Getter, id, userID uuid.UUID, role models.Role) (*models.Session, error) {
	s, err := store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if role != models.RoleAdmin && s.UserID != userID {
		return nil, ErrForbidden
	}
	return s, nil
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID, _ := middleware.Caller(c)
	s := &models.Session{UserID: userID, RoomName: req.RoomName}
	if err := h.store.Create(c.Request.Context(), s); err != nil {
		h.logger.Error("create session failed", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to create session")
		return
	}
	h.logger.Info("session created", zap.String("session_id", s.ID.String()), zap.String("room_name", s.RoomName))
	response.Created(c, s)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, s)
}

// List handles GET /sessions (caller's sessions).
func (h *Handler) List(c *gin.Context) {
	userID, _ := middleware.Caller(c)
	list, err := h.store.ListByUser(c.Request.Context(), userID, 100)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// UpdateStatus handles PATCH /sessions/:id.
func (h *Handler) UpdateStatus(c *gin.Context) {
	s, ok := h.load(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if s.Status == models.SessionStatusCompleted || s.Status == models.SessionStatusFailed {
		response.Conflict(c, "session already ended")
		return
	}
	updated, err := h.store.UpdateStatus(c.Request.Context(), s.ID, req.Status)
	if err != nil {
		h.logger.Error("update session failed", zap.Error(err), zap.String("session_id", s.ID.String()))
		response.Internal(c, "failed to update session")
		return
	}
	response.OK(c, updated)
}

func (h *Handler) load(c *gin.Context) (*models.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	userID, role := middleware.Caller(c)
	s, err := Authorize(c.Request.Context(), h.store, id, userID, role)
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "session not found")
		return nil, false
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, "not authorized for this session")
		return nil, false
	case err != nil:
		h.logger.Error("load session failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to load session")
		return nil, false
	}
	return s, true
}
