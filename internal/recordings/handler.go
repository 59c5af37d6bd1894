package recordings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/echosphere/backend/internal/middleware"
	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/internal/sessions"
	"github.com/echosphere/backend/pkg/response"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Commands is the lifecycle surface the handler drives.
type Commands interface {
	RequestStart(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error)
	RequestStop(ctx context.Context, id uuid.UUID) (*models.Recording, error)
}

// Reader is the read side of the recording store plus transcript writes.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID, page, pageSize int) ([]models.Recording, int, error)
	ListByUser(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Recording, int, error)
	ListByStatus(ctx context.Context, status models.RecordingStatus, page, pageSize int) ([]models.Recording, int, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, recordingID uuid.UUID) ([]models.Message, error)
}

// Presigner issues time-limited playlist URLs.
type Presigner interface {
	PresignPlaylist(ctx context.Context, bucket, storagePath string) (string, error)
	PresignExpire() time.Duration
}

// AppendMessageRequest is the body for POST /recordings/:id/messages.
type AppendMessageRequest struct {
	Role        models.MessageRole `json:"role" binding:"required,oneof=user assistant"`
	Content     string             `json:"content" binding:"required"`
	TimestampMs *int64             `json:"timestamp_ms" binding:"required,gte=0"`
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	commands Commands
	reader   Reader
	sessions sessions.Getter
	presign  Presigner
	logger   *zap.Logger
}

// NewHandler creates a recordings handler. presign may be nil when S3 is not configured.
func NewHandler(commands Commands, reader Reader, sessionStore sessions.Getter, presign Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{commands: commands, reader: reader, sessions: sessionStore, presign: presign, logger: logger}
}

// Start handles POST /sessions/:id/recording/start.
func (h *Handler) Start(c *gin.Context) {
	sessionID, ok := h.authorizeSessionParam(c)
	if !ok {
		return
	}
	rec, err := h.commands.RequestStart(c.Request.Context(), sessionID)
	switch {
	case errors.Is(err, ErrRecordingInProgress):
		response.Conflict(c, "recording already in progress")
		return
	case errors.Is(err, ErrGateway):
		response.BadGateway(c, err.Error())
		return
	case err != nil:
		h.logger.Error("start recording failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to start recording")
		return
	}
	response.Created(c, rec.Summary())
}

// Stop handles POST /recordings/:id/stop.
func (h *Handler) Stop(c *gin.Context) {
	rec, ok := h.loadRecording(c)
	if !ok {
		return
	}
	updated, err := h.commands.RequestStop(c.Request.Context(), rec.ID)
	switch {
	case errors.Is(err, ErrGateway):
		response.BadGateway(c, err.Error())
		return
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "recording not found")
		return
	case err != nil:
		h.logger.Error("stop recording failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to stop recording")
		return
	}
	response.OK(c, updated.Summary())
}

// Get handles GET /recordings/:id. Returns metadata plus the ordered transcript.
func (h *Handler) Get(c *gin.Context) {
	rec, ok := h.loadRecording(c)
	if !ok {
		return
	}
	transcript, err := h.reader.ListMessages(c.Request.Context(), rec.ID)
	if err != nil {
		h.logger.Error("list transcript failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to load transcript")
		return
	}
	response.OK(c, rec.Detail(transcript))
}

// PlaybackURL handles GET /recordings/:id/playback-url. Only completed recordings have one.
func (h *Handler) PlaybackURL(c *gin.Context) {
	rec, ok := h.loadRecording(c)
	if !ok {
		return
	}
	if rec.Status != models.RecordingStatusCompleted {
		response.BadRequest(c, "recording not ready for playback (status: "+string(rec.Status)+")")
		return
	}
	if h.presign == nil {
		response.OK(c, gin.H{"playback_url": rec.PlaybackURL, "expires_in": 0})
		return
	}
	url, err := h.presign.PresignPlaylist(c.Request.Context(), rec.StorageBucket, rec.StoragePath)
	if err != nil {
		h.logger.Error("presign playlist failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to generate playback URL")
		return
	}
	response.OK(c, gin.H{"playback_url": url, "expires_in": int(h.presign.PresignExpire().Seconds())})
}

// ListBySession handles GET /sessions/:id/recordings.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, ok := h.authorizeSessionParam(c)
	if !ok {
		return
	}
	page, pageSize, ok := pagination(c)
	if !ok {
		return
	}
	list, total, err := h.reader.ListBySession(c.Request.Context(), sessionID, page, pageSize)
	h.respondPage(c, list, total, page, pageSize, err)
}

// ListMine handles GET /recordings (recordings of the caller's sessions).
func (h *Handler) ListMine(c *gin.Context) {
	page, pageSize, ok := pagination(c)
	if !ok {
		return
	}
	userID, _ := middleware.Caller(c)
	list, total, err := h.reader.ListByUser(c.Request.Context(), userID, page, pageSize)
	h.respondPage(c, list, total, page, pageSize, err)
}

// ListAll handles GET /admin/recordings?status=.
func (h *Handler) ListAll(c *gin.Context) {
	page, pageSize, ok := pagination(c)
	if !ok {
		return
	}
	status := models.RecordingStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		response.BadRequest(c, "invalid status")
		return
	}
	list, total, err := h.reader.ListByStatus(c.Request.Context(), status, page, pageSize)
	h.respondPage(c, list, total, page, pageSize, err)
}

// AppendMessage handles POST /recordings/:id/messages.
func (h *Handler) AppendMessage(c *gin.Context) {
	rec, ok := h.loadRecording(c)
	if !ok {
		return
	}
	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	// A completed transcript is the playback snapshot and stays fixed.
	if rec.Status.Terminal() {
		response.Conflict(c, "recording is "+string(rec.Status))
		return
	}
	msg := &models.Message{
		RecordingID: rec.ID,
		Role:        req.Role,
		Content:     req.Content,
		TimestampMs: *req.TimestampMs,
	}
	if err := h.reader.AppendMessage(c.Request.Context(), msg); err != nil {
		h.logger.Error("append message failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to append message")
		return
	}
	response.Created(c, msg)
}

func (h *Handler) respondPage(c *gin.Context, list []models.Recording, total, page, pageSize int, err error) {
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, "failed to list recordings")
		return
	}
	items := make([]models.RecordingSummary, 0, len(list))
	for i := range list {
		items = append(items, list[i].Summary())
	}
	response.Paginated(c, items, total, page, pageSize)
}

// loadRecording parses :id, loads the recording and checks the caller may access its session.
func (h *Handler) loadRecording(c *gin.Context) (*models.Recording, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return nil, false
	}
	rec, err := h.reader.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "recording not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load recording failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to load recording")
		return nil, false
	}
	if !h.authorizeSession(c, rec.SessionID) {
		return nil, false
	}
	return rec, true
}

func (h *Handler) authorizeSessionParam(c *gin.Context) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return uuid.Nil, false
	}
	return sessionID, h.authorizeSession(c, sessionID)
}

func (h *Handler) authorizeSession(c *gin.Context, sessionID uuid.UUID) bool {
	userID, role := middleware.Caller(c)
	_, err := sessions.Authorize(c.Request.Context(), h.sessions, sessionID, userID, role)
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		response.NotFound(c, "session not found")
		return false
	case errors.Is(err, sessions.ErrForbidden):
		response.Forbidden(c, "not authorized for this session")
		return false
	case err != nil:
		h.logger.Error("load session failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to load session")
		return false
	}
	return true
}

func pagination(c *gin.Context) (page, pageSize int, ok bool) {
	page, pageSize = 1, defaultPageSize
	var err error
	if v := c.Query("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			response.BadRequest(c, "page must be >= 1")
			return 0, 0, false
		}
	}
	if v := c.Query("page_size"); v != "" {
		if pageSize, err = strconv.Atoi(v); err != nil || pageSize < 1 || pageSize > maxPageSize {
			response.BadRequest(c, "page_size must be between 1 and 100")
			return 0, 0, false
		}
	}
	return page, pageSize, true
}
