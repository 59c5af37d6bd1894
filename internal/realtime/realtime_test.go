package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type capturePublisher struct {
	sessionID uuid.UUID
	event     string
	payload   []byte
}

func (p *capturePublisher) PublishSessionEvent(sessionID uuid.UUID, event string, payload []byte) error {
	p.sessionID, p.event, p.payload = sessionID, event, payload
	return nil
}

func localClient(sessionID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), SessionID: sessionID, send: make(chan WSMessage, 4)}
}

func TestHubBroadcastsOnlyToSessionWatchers(t *testing.T) {
	h := NewHub(nil, nil, nil)
	s1, s2 := uuid.New(), uuid.New()
	a, b, other := localClient(s1), localClient(s1), localClient(s2)
	h.Register(a)
	h.Register(b)
	h.Register(other)
	assert.Equal(t, 2, h.WatcherCount(s1))

	require.NoError(t, h.Publish(s1, EventRecordingStatus, map[string]string{"status": "active"}))
	for _, c := range []*Client{a, b} {
		msg := <-c.send
		assert.Equal(t, EventRecordingStatus, msg.Event)
		assert.JSONEq(t, `{"status":"active"}`, string(msg.Data))
	}
	assert.Empty(t, other.send)

	h.Unregister(a)
	h.Unregister(b)
	assert.Zero(t, h.WatcherCount(s1))
}

func TestHubPublishGoesThroughRedisWhenConfigured(t *testing.T) {
	pub := &capturePublisher{}
	h := NewHub(nil, pub, nil)
	sessionID := uuid.New()
	c := localClient(sessionID)
	h.Register(c)

	require.NoError(t, h.Publish(sessionID, EventRecordingStatus, map[string]int{"n": 1}))
	assert.Equal(t, sessionID, pub.sessionID)
	assert.JSONEq(t, `{"n":1}`, string(pub.payload))
	assert.Empty(t, c.send, "local delivery happens via the subscription")
}

type fakeSubscriber struct {
	handler  func(event string, payload []byte)
	canceled bool
}

func (s *fakeSubscriber) SubscribeSession(_ uuid.UUID, handler func(string, []byte)) (func(), error) {
	s.handler = handler
	return func() { s.canceled = true }, nil
}

func TestHubSubscriptionLifecycle(t *testing.T) {
	sub := &fakeSubscriber{}
	h := NewHub(nil, nil, sub)
	sessionID := uuid.New()
	c := localClient(sessionID)
	h.Register(c)
	require.NotNil(t, sub.handler)

	sub.handler(EventRecordingStatus, []byte(`{"status":"completed"}`))
	msg := <-c.send
	assert.JSONEq(t, `{"status":"completed"}`, string(msg.Data))

	h.Unregister(c)
	assert.True(t, sub.canceled)
}

func TestStatusPublisherSendsSummary(t *testing.T) {
	h := NewHub(nil, nil, nil)
	rec := models.Recording{
		ID: uuid.New(), SessionID: uuid.New(), Status: models.RecordingStatusFailed,
		PlaybackURL: "https://cdn.test/should-not-leak", ErrorMessage: "egress aborted",
	}
	c := localClient(rec.SessionID)
	h.Register(c)

	NewStatusPublisher(h, nil).RecordingChanged(context.Background(), rec)
	msg := <-c.send
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "failed", got["status"])
	assert.Equal(t, "egress aborted", got["error_message"])
	assert.NotContains(t, got, "playback_url")
}

func TestRedisPubSubPublish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ps := NewRedisPubSub(db, nil)
	ps.now = func() time.Time { return time.Unix(1700000000, 0) }
	sessionID := uuid.New()

	mock.ExpectPublish(Channel(sessionID), `{"event":"recording_status","data":{"status":"active"},"at":1700000000}`).SetVal(1)
	require.NoError(t, ps.PublishSessionEvent(sessionID, EventRecordingStatus, []byte(`{"status":"active"}`)))

	mock.ExpectPublish(Channel(sessionID), `{"event":"recording_status","data":{},"at":1700000000}`).SetErr(errors.New("redis down"))
	assert.Error(t, ps.PublishSessionEvent(sessionID, EventRecordingStatus, []byte(`{}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.True(t, strings.HasPrefix(Channel(sessionID), "session:"))
}

func TestServeWsDeliversStatusEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	owner, stranger := uuid.New(), uuid.New()
	sessionID := uuid.New()
	store := memSessions{sessionID: {ID: sessionID, UserID: owner}}
	validate := func(token string) (uuid.UUID, models.Role, error) {
		switch token {
		case "owner":
			return owner, models.RoleUser, nil
		case "stranger":
			return stranger, models.RoleUser, nil
		}
		return uuid.Nil, "", errors.New("bad token")
	}
	hub := NewHub(nil, nil, nil)
	r := gin.New()
	r.GET("/ws", ServeWs(hub, store, validate, nil))
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session_id=" + sessionID.String()

	for token, want := range map[string]int{"nope": http.StatusUnauthorized, "stranger": http.StatusForbidden} {
		_, resp, err := websocket.DefaultDialer.Dial(base+"&token="+token, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, want, resp.StatusCode, token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"&token=owner", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.WatcherCount(sessionID) == 1 }, time.Second, 5*time.Millisecond)

	rec := models.Recording{ID: uuid.New(), SessionID: sessionID, Status: models.RecordingStatusActive}
	NewStatusPublisher(hub, nil).RecordingChanged(context.Background(), rec)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventRecordingStatus, msg.Event)
	assert.Contains(t, string(msg.Data), rec.ID.String())

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "ping"}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "pong", msg.Event)
}
