package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/chat-sync/internal/config"
	"github.com/weiawesome/chat-sync/internal/domain"
	"github.com/weiawesome/chat-sync/internal/hub"
	"github.com/weiawesome/chat-sync/internal/service"
	"github.com/weiawesome/chat-sync/internal/store"
	"github.com/weiawesome/chat-sync/pkg/token"
)

// stubTracker keeps presence in memory; the websocket tests only need the
// first/last transition contract, not expiry.
type stubTracker struct {
	conns map[string]map[string]bool
}

func newStubTracker() *stubTracker {
	return &stubTracker{conns: make(map[string]map[string]bool)}
}

func (s *stubTracker) SetOnline(_ context.Context, userID, connectionID string) (bool, error) {
	if s.conns[userID] == nil {
		s.conns[userID] = make(map[string]bool)
	}
	s.conns[userID][connectionID] = true
	return len(s.conns[userID]) == 1, nil
}

func (s *stubTracker) SetOffline(_ context.Context, userID, connectionID string) (bool, error) {
	delete(s.conns[userID], connectionID)
	if len(s.conns[userID]) == 0 {
		delete(s.conns, userID)
		return true, nil
	}
	return false, nil
}

func (s *stubTracker) IsOnline(_ context.Context, userID string) (bool, error) {
	return len(s.conns[userID]) > 0, nil
}

func (s *stubTracker) Heartbeat(context.Context, string) error           { return nil }
func (s *stubTracker) SetTyping(context.Context, string, string) error   { return nil }
func (s *stubTracker) ClearTyping(context.Context, string, string) error { return nil }
func (s *stubTracker) GetTypingUsers(context.Context, string) ([]string, error) {
	return nil, nil
}

type wsFixture struct {
	server *httptest.Server
	store  *store.GormChatStore
	tokens *token.Manager
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "chatsync_test.db"),
	})
	require.NoError(t, err)
	st := store.NewGormChatStore(db)

	h := hub.NewHub()
	go h.Run()

	wsCfg := config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 8192,
	}

	tokens := token.NewManager("test-secret", time.Hour, 5*time.Minute, "chat-sync-test")
	svc := service.NewSyncService(h, st, newStubTracker(), nil, service.Config{MaxContentLength: 2000})

	engine := gin.New()
	NewWSHandler(h, svc, tokens, wsCfg).RegisterRoutes(engine)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &wsFixture{server: server, store: st, tokens: tokens}
}

func (f *wsFixture) wsURL(rawToken string) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	if rawToken != "" {
		u += "?token=" + rawToken
	}
	return u
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	connect, err := f.tokens.MintConnect(userID)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(f.wsURL(connect), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded
}

func TestHandshakeRejectedWithoutToken(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsAccessToken(t *testing.T) {
	f := newWSFixture(t)

	// A primary-session token must not open a socket.
	access, err := f.tokens.MintAccess("alice")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(access), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendOverWebSocketReceivesAck(t *testing.T) {
	f := newWSFixture(t)
	conv, err := f.store.CreateConversation(context.Background(), domain.ConversationDirect, "", []string{"alice", "bob"})
	require.NoError(t, err)

	conn := f.dial(t, "alice")

	join, _ := json.Marshal(map[string]string{"type": "join", "conversation_id": conv.ID})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	send, _ := json.Marshal(map[string]string{
		"type":              "message:send",
		"conversation_id":   conv.ID,
		"content":           "hello",
		"client_message_id": "cm-1",
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, send))

	ev := readEvent(t, conn)
	assert.Equal(t, "message:ack", ev["type"])
	assert.Equal(t, "cm-1", ev["client_message_id"])
	msg := ev["message"].(map[string]any)
	assert.Equal(t, "hello", msg["content"])
	assert.NotEmpty(t, msg["id"])
}

func TestUnknownEventReturnsError(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message:edit"}`)))

	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, domain.ErrCodeBadRequest, ev["code"])
}

func TestMessageDeliveredToJoinedPeer(t *testing.T) {
	f := newWSFixture(t)
	conv, err := f.store.CreateConversation(context.Background(), domain.ConversationDirect, "", []string{"alice", "bob"})
	require.NoError(t, err)

	alice := f.dial(t, "alice")
	bob := f.dial(t, "bob")

	for _, conn := range []*websocket.Conn{alice, bob} {
		join, _ := json.Marshal(map[string]string{"type": "join", "conversation_id": conv.ID})
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))
	}

	// bob's connect broadcast a presence update to alice; drain it.
	ev := readEvent(t, alice)
	require.Equal(t, "presence:update", ev["type"])

	// Joins are processed in order per connection, but across connections
	// there is no barrier; give bob's join a moment to land.
	time.Sleep(50 * time.Millisecond)

	send, _ := json.Marshal(map[string]string{
		"type":              "message:send",
		"conversation_id":   conv.ID,
		"content":           "hi bob",
		"client_message_id": "cm-1",
	})
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, send))

	ack := readEvent(t, alice)
	assert.Equal(t, "message:ack", ack["type"])

	delivered := readEvent(t, bob)
	assert.Equal(t, "message:new", delivered["type"])
	assert.Equal(t, "hi bob", delivered["message"].(map[string]any)["content"])
}
