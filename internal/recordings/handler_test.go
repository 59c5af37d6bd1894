package recordings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echosphere/backend/internal/egress"
	"github.com/echosphere/backend/internal/middleware"
	"github.com/echosphere/backend/internal/models"
	"github.com/echosphere/backend/internal/sessions"
)

type memSessions map[uuid.UUID]models.Session

func (m memSessions) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := m[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return &s, nil
}

type fakePresigner struct{ err error }

func (p fakePresigner) PresignPlaylist(_ context.Context, bucket, storagePath string) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return "https://signed.test/" + bucket + "/" + storagePath + "/index.m3u8?sig=1", nil
}

func (fakePresigner) PresignExpire() time.Duration { return time.Hour }

type handlerFixture struct {
	*controllerFixture
	router    *gin.Engine
	owner     uuid.UUID
	sessionID uuid.UUID
	sessions  memSessions
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &handlerFixture{
		controllerFixture: newControllerFixture(),
		owner:             uuid.New(),
		sessionID:         uuid.New(),
		sessions:          memSessions{},
	}
	f.sessions[f.sessionID] = models.Session{ID: f.sessionID, UserID: f.owner, Status: models.SessionStatusActive}
	f.store.owners[f.sessionID] = f.owner

	h := NewHandler(f.ctrl, f.store, f.sessions, fakePresigner{}, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id, err := uuid.Parse(c.GetHeader("X-Test-User")); err == nil {
			c.Set(middleware.ContextUserID, id)
			c.Set(middleware.ContextUserRole, models.Role(c.GetHeader("X-Test-Role")))
		}
		c.Next()
	})
	r.POST("/sessions/:id/recording/start", h.Start)
	r.GET("/sessions/:id/recordings", h.ListBySession)
	r.GET("/recordings", h.ListMine)
	r.GET("/admin/recordings", h.ListAll)
	r.GET("/recordings/:id", h.Get)
	r.POST("/recordings/:id/stop", h.Stop)
	r.GET("/recordings/:id/playback-url", h.PlaybackURL)
	r.POST("/recordings/:id/messages", h.AppendMessage)
	f.router = r
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (f *handlerFixture) do(t *testing.T, method, path string, user uuid.UUID, role models.Role, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user.String())
	req.Header.Set("X-Test-Role", string(role))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func (f *handlerFixture) start(t *testing.T) models.RecordingSummary {
	t.Helper()
	w, env := f.do(t, http.MethodPost, "/sessions/"+f.sessionID.String()+"/recording/start", f.owner, models.RoleUser, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s models.RecordingSummary
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func TestHandlerStartAndConflict(t *testing.T) {
	f := newHandlerFixture(t)
	s := f.start(t)
	assert.Equal(t, models.RecordingStatusStarting, s.Status)
	assert.Empty(t, s.PlaybackURL)

	w, env := f.do(t, http.MethodPost, "/sessions/"+f.sessionID.String()+"/recording/start", f.owner, models.RoleUser, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "recording already in progress", env.Error)
}

func TestHandlerStartGatewayError(t *testing.T) {
	f := newHandlerFixture(t)
	f.gateway.startErr = errors.New("egress unavailable")
	w, env := f.do(t, http.MethodPost, "/sessions/"+f.sessionID.String()+"/recording/start", f.owner, models.RoleUser, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, env.Error, "egress unavailable")
}

func TestHandlerAuthorization(t *testing.T) {
	f := newHandlerFixture(t)
	stranger := uuid.New()
	w, _ := f.do(t, http.MethodPost, "/sessions/"+f.sessionID.String()+"/recording/start", stranger, models.RoleUser, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(t, http.MethodPost, "/sessions/"+uuid.NewString()+"/recording/start", f.owner, models.RoleUser, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(t, http.MethodPost, "/sessions/not-a-uuid/recording/start", f.owner, models.RoleUser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s := f.start(t)
	w, _ = f.do(t, http.MethodGet, "/recordings/"+s.ID.String(), stranger, models.RoleUser, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = f.do(t, http.MethodGet, "/recordings/"+s.ID.String(), stranger, models.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerStopAndPlayback(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	s := f.start(t)
	rec, err := f.store.GetByID(ctx, s.ID)
	require.NoError(t, err)

	w, _ := f.do(t, http.MethodGet, "/recordings/"+s.ID.String()+"/playback-url", f.owner, models.RoleUser, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err = f.ctrl.HandleGatewayEvent(ctx, egress.Event{JobID: rec.EgressID, Kind: egress.KindStarted, Seq: 1})
	require.NoError(t, err)

	w, env := f.do(t, http.MethodPost, "/recordings/"+s.ID.String()+"/stop", f.owner, models.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stopped models.RecordingSummary
	require.NoError(t, json.Unmarshal(env.Data, &stopped))
	assert.Equal(t, models.RecordingStatusProcessing, stopped.Status)

	_, err = f.ctrl.HandleGatewayEvent(ctx, egress.Event{
		JobID: rec.EgressID, Kind: egress.KindEnded, Seq: 2,
		Artifact: egress.Artifact{Bucket: "b", Path: "p", DurationSeconds: intPtr(125)},
	})
	require.NoError(t, err)

	w, env = f.do(t, http.MethodGet, "/recordings/"+s.ID.String()+"/playback-url", f.owner, models.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		PlaybackURL string `json:"playback_url"`
		ExpiresIn   int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "https://signed.test/b/p/index.m3u8?sig=1", out.PlaybackURL)
	assert.Equal(t, 3600, out.ExpiresIn)
}

func TestHandlerStopGatewayError(t *testing.T) {
	f := newHandlerFixture(t)
	s := f.start(t)
	rec, _ := f.store.GetByID(context.Background(), s.ID)
	_, err := f.ctrl.HandleGatewayEvent(context.Background(), egress.Event{JobID: rec.EgressID, Kind: egress.KindStarted})
	require.NoError(t, err)
	f.gateway.stopErr = errors.New("gateway down")

	w, _ := f.do(t, http.MethodPost, "/recordings/"+s.ID.String()+"/stop", f.owner, models.RoleUser, nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandlerTranscriptAndDetail(t *testing.T) {
	f := newHandlerFixture(t)
	s := f.start(t)
	path := "/recordings/" + s.ID.String() + "/messages"

	for _, m := range []map[string]any{
		{"role": "assistant", "content": "Hi there", "timestamp_ms": 2000},
		{"role": "user", "content": "Hello", "timestamp_ms": 0},
		{"role": "user", "content": "Same time", "timestamp_ms": 2000},
	} {
		w, _ := f.do(t, http.MethodPost, path, f.owner, models.RoleUser, m)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w, _ := f.do(t, http.MethodPost, path, f.owner, models.RoleUser, map[string]any{"role": "system", "content": "x", "timestamp_ms": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodPost, path, f.owner, models.RoleUser, map[string]any{"role": "user", "content": "x", "timestamp_ms": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.do(t, http.MethodPost, path, f.owner, models.RoleUser, map[string]any{"role": "user", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := f.do(t, http.MethodGet, "/recordings/"+s.ID.String(), f.owner, models.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail models.RecordingDetail
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	require.Len(t, detail.Transcript, 3)
	assert.Equal(t, "Hello", detail.Transcript[0].Content)
	assert.Equal(t, "Hi there", detail.Transcript[1].Content)
	assert.Equal(t, "Same time", detail.Transcript[2].Content)
	assert.Empty(t, detail.PlaybackURL)
}

func TestHandlerAppendRejectedOnceTerminal(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	s := f.start(t)
	rec, err := f.store.GetByID(ctx, s.ID)
	require.NoError(t, err)
	path := "/recordings/" + s.ID.String() + "/messages"
	turn := map[string]any{"role": "user", "content": "late", "timestamp_ms": 9000}

	_, err = f.ctrl.HandleGatewayEvent(ctx, egress.Event{JobID: rec.EgressID, Kind: egress.KindStarted, Seq: 1})
	require.NoError(t, err)
	_, err = f.ctrl.RequestStop(ctx, s.ID)
	require.NoError(t, err)
	w, _ := f.do(t, http.MethodPost, path, f.owner, models.RoleUser, turn)
	require.Equal(t, http.StatusCreated, w.Code, "processing still accepts trailing turns")

	_, err = f.ctrl.HandleGatewayEvent(ctx, egress.Event{JobID: rec.EgressID, Kind: egress.KindEnded, Seq: 2, Artifact: egress.Artifact{Bucket: "b", Path: "p"}})
	require.NoError(t, err)
	w, _ = f.do(t, http.MethodPost, path, f.owner, models.RoleUser, turn)
	assert.Equal(t, http.StatusConflict, w.Code)

	msgs, err := f.store.ListMessages(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandlerPagination(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s := f.start(t)
		rec, _ := f.store.GetByID(ctx, s.ID)
		_, err := f.ctrl.HandleGatewayEvent(ctx, egress.Event{JobID: rec.EgressID, Kind: egress.KindFailed})
		require.NoError(t, err)
	}

	w, env := f.do(t, http.MethodGet, "/sessions/"+f.sessionID.String()+"/recordings?page=1&page_size=2", f.owner, models.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.RecordingPage
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Items, 2)

	w, env = f.do(t, http.MethodGet, "/recordings?page=2&page_size=2", f.owner, models.RoleUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Items, 1)

	for _, q := range []string{"page=0", "page_size=0", "page_size=101", "page=abc"} {
		w, _ = f.do(t, http.MethodGet, "/recordings?"+q, f.owner, models.RoleUser, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}

	w, env = f.do(t, http.MethodGet, "/admin/recordings?status=failed", f.owner, models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 20, page.PageSize)

	w, _ = f.do(t, http.MethodGet, "/admin/recordings?status=bogus", f.owner, models.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
