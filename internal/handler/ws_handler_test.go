package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-match-chat/internal/broker"
	"github.com/weiawesome/wes-match-chat/internal/config"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/internal/gateway"
	"github.com/weiawesome/wes-match-chat/internal/hub"
	"github.com/weiawesome/wes-match-chat/internal/service"
	"github.com/weiawesome/wes-match-chat/pkg/database"
	"github.com/weiawesome/wes-match-chat/pkg/jwt"
	"github.com/weiawesome/wes-match-chat/pkg/log"
	"github.com/weiawesome/wes-match-chat/pkg/middleware"
	"github.com/weiawesome/wes-match-chat/pkg/pubsub"
	"gorm.io/gorm"
)

type testServer struct {
	url     string
	db      *gorm.DB
	tokens  *jwt.Manager
	manager *service.Manager
}

func newTestServer(t *testing.T, cfg config.ChatConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(&database.Config{
		Driver:       "sqlite",
		FilePath:     ":memory:",
		LogLevel:     "silent",
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, gateway.Models()...))
	t.Cleanup(func() { database.Close(db) })

	tokens, err := jwt.NewManager("test-secret", time.Minute, "")
	require.NoError(t, err)

	gw := gateway.NewGormGateway(db, gateway.NewMemoryNameCache(), time.Minute)
	manager := service.NewManager(cfg, broker.New(pubsub.NewMemoryPubSub(nil)), gw)
	require.NoError(t, manager.Start(context.Background()))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(log.GinMiddleware(log.L()))
	NewWSHandler(manager, hub.NewAcceptor(cfg), middleware.NewAuthMiddleware(tokens)).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		manager.Stop(context.Background())
		srv.Close()
	})

	return &testServer{url: srv.URL, db: db, tokens: tokens, manager: manager}
}

func (s *testServer) dial(t *testing.T, userID uuid.UUID) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	token, _, err := s.tokens.GenerateAccessToken(userID.String(), "")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(s.url, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func (s *testServer) connect(a, b uuid.UUID) error {
	for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
		row := &gateway.ContactModel{MyUserID: pair[0].String(), OtherUserID: pair[1].String(), Status: gateway.ContactOngoing}
		if err := s.db.Create(row).Error; err != nil {
			return err
		}
	}
	return nil
}

func chatConfig() config.ChatConfig {
	return config.ChatConfig{
		MaxConnections:     10,
		MaxQueue:           20,
		RateNumber:         100,
		RatePeriod:         time.Minute,
		InactivityMax:      5 * time.Minute,
		CloseInactiveEvery: time.Hour,
		UnreadBackfill:     20,
		MaxMessageSize:     1 << 20,
		WriteWait:          time.Second,
		SendBuffer:         16,
	}
}

func readPayload(t *testing.T, conn *websocket.Conn) *domain.Payload {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	p, err := domain.DecodePayload(data)
	require.NoError(t, err)
	return p
}

func writeFrame(t *testing.T, conn *websocket.Conn, payloadType string, content any) {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"payload_type":    payloadType,
		"related_content": content,
		"timestamp":       domain.NowTimestamp(),
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func errorBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	require.NotNil(t, resp)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &parsed))
	return parsed.Error.Message
}

func TestChatOverWebsocket(t *testing.T) {
	s := newTestServer(t, chatConfig())
	alice, bob := uuid.New(), uuid.New()
	require.NoError(t, s.connect(alice, bob))

	a, _, err := s.dial(t, alice)
	require.NoError(t, err)
	b, _, err := s.dial(t, bob)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.manager.Count() == 2 }, time.Second, 5*time.Millisecond)

	clientID := uuid.New()
	writeFrame(t, a, "create", map[string]any{
		"receiver_id": bob.String(),
		"text":        "hi bob",
		"client_id":   clientID.String(),
	})

	got := readPayload(t, b)
	require.Equal(t, domain.PayloadNew, got.Type)
	assert.Equal(t, "hi bob", got.Content.(*domain.MessageRead).Text)

	ack := readPayload(t, a)
	require.Equal(t, domain.PayloadSent, ack.Type)
	assert.Equal(t, clientID, ack.Content.(*domain.MessageSent).ClientID)

	writeFrame(t, a, "ping", map[string]any{"ping_timestamp": nil})
	assert.Equal(t, domain.PayloadPong, readPayload(t, a).Type)
}

func TestClientCloseEndsSession(t *testing.T) {
	s := newTestServer(t, chatConfig())

	conn, _, err := s.dial(t, uuid.New())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.manager.Count() == 1 }, time.Second, 5*time.Millisecond)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	require.Eventually(t, func() bool { return s.manager.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRateLimitCloseCode(t *testing.T) {
	cfg := chatConfig()
	cfg.RateNumber = 1
	s := newTestServer(t, cfg)

	conn, _, err := s.dial(t, uuid.New())
	require.NoError(t, err)

	writeFrame(t, conn, "ping", map[string]any{"ping_timestamp": nil})
	assert.Equal(t, domain.PayloadPong, readPayload(t, conn).Type)
	writeFrame(t, conn, "ping", map[string]any{"ping_timestamp": nil})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, domain.ReasonRateLimited, closeErr.Text)
}

func TestRejectsMissingOrInvalidToken(t *testing.T) {
	s := newTestServer(t, chatConfig())
	base := "ws" + strings.TrimPrefix(s.url, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, middleware.MsgTokenMissing, errorBody(t, resp))

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=garbage", nil)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, middleware.MsgTokenInvalid, errorBody(t, resp))

	header := http.Header{}
	header.Set("Authorization", "Bearer garbage")
	_, resp, err = websocket.DefaultDialer.Dial(base, header)
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestRejectsOverCapacity(t *testing.T) {
	cfg := chatConfig()
	cfg.MaxConnections = 1
	s := newTestServer(t, cfg)

	_, _, err := s.dial(t, uuid.New())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.manager.Count() == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := s.dial(t, uuid.New())
	assert.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, MsgCapacityExceeded, errorBody(t, resp))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, chatConfig())

	resp, err := http.Get(s.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["connections"])
}
