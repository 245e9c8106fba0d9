package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/chat-sync/internal/config"
	"github.com/weiawesome/chat-sync/internal/domain"
	"github.com/weiawesome/chat-sync/internal/hub"
)

// fakeStore is an in-memory ChatStore with the same idempotency contract as
// the durable one.
type fakeStore struct {
	participants map[string]map[string]bool // conversation -> user -> member
	messages     map[string]*domain.Message // conversation|clientMessageID -> message
	lastRead     map[string]time.Time       // conversation|user -> timestamp
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: make(map[string]map[string]bool),
		messages:     make(map[string]*domain.Message),
		lastRead:     make(map[string]time.Time),
	}
}

func (f *fakeStore) addParticipant(conversationID, userID string) {
	if f.participants[conversationID] == nil {
		f.participants[conversationID] = make(map[string]bool)
	}
	f.participants[conversationID][userID] = true
}

func (f *fakeStore) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	return f.participants[conversationID][userID], nil
}

func (f *fakeStore) SaveMessage(_ context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	key := msg.ConversationID + "|" + msg.ClientMessageID
	if existing, ok := f.messages[key]; ok {
		return existing, false, nil
	}
	saved := &domain.Message{
		ID:              "srv-" + msg.ClientMessageID,
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Content:         msg.Content,
		ClientMessageID: msg.ClientMessageID,
		CreatedAt:       time.Now().UTC(),
	}
	f.messages[key] = saved
	return saved, true, nil
}

func (f *fakeStore) ListMessages(context.Context, string, time.Time, int) ([]*domain.Message, error) {
	return nil, nil
}

func (f *fakeStore) UpdateLastRead(_ context.Context, conversationID, userID string, at time.Time) error {
	if !f.participants[conversationID][userID] {
		return domain.ErrForbidden
	}
	f.lastRead[conversationID+"|"+userID] = at
	return nil
}

func (f *fakeStore) CreateConversation(context.Context, domain.ConversationType, string, []string) (*domain.Conversation, error) {
	return nil, nil
}

func (f *fakeStore) ListConversations(context.Context, string) ([]*domain.ConversationSummary, error) {
	return nil, nil
}

// fakeTracker mimics the TTL store's first/last transition semantics without
// expiry.
type fakeTracker struct {
	conns  map[string]map[string]bool // user -> connection ids
	typing map[string]map[string]bool // conversation -> users
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		conns:  make(map[string]map[string]bool),
		typing: make(map[string]map[string]bool),
	}
}

func (f *fakeTracker) SetOnline(_ context.Context, userID, connectionID string) (bool, error) {
	if f.conns[userID] == nil {
		f.conns[userID] = make(map[string]bool)
	}
	f.conns[userID][connectionID] = true
	return len(f.conns[userID]) == 1, nil
}

func (f *fakeTracker) SetOffline(_ context.Context, userID, connectionID string) (bool, error) {
	delete(f.conns[userID], connectionID)
	if len(f.conns[userID]) == 0 {
		delete(f.conns, userID)
		return true, nil
	}
	return false, nil
}

func (f *fakeTracker) IsOnline(_ context.Context, userID string) (bool, error) {
	return len(f.conns[userID]) > 0, nil
}

func (f *fakeTracker) Heartbeat(context.Context, string) error { return nil }

func (f *fakeTracker) SetTyping(_ context.Context, conversationID, userID string) error {
	if f.typing[conversationID] == nil {
		f.typing[conversationID] = make(map[string]bool)
	}
	f.typing[conversationID][userID] = true
	return nil
}

func (f *fakeTracker) ClearTyping(_ context.Context, conversationID, userID string) error {
	delete(f.typing[conversationID], userID)
	return nil
}

func (f *fakeTracker) GetTypingUsers(_ context.Context, conversationID string) ([]string, error) {
	users := make([]string, 0, len(f.typing[conversationID]))
	for u := range f.typing[conversationID] {
		users = append(users, u)
	}
	return users, nil
}

type fixture struct {
	hub     *hub.Hub
	store   *fakeStore
	tracker *fakeTracker
	svc     SyncService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := hub.NewHub()
	go h.Run()

	st := newFakeStore()
	tr := newFakeTracker()
	return &fixture{
		hub:     h,
		store:   st,
		tracker: tr,
		svc:     NewSyncService(h, st, tr, nil, Config{MaxContentLength: 2000}),
	}
}

func (fx *fixture) connect(t *testing.T, connID, userID string, rooms ...string) *hub.Client {
	t.Helper()
	c := hub.NewClient(connID, userID, time.Now().Add(time.Hour), fx.hub, nil, config.WebSocketConfig{})
	fx.hub.Register(c)
	require.NoError(t, fx.svc.HandleConnect(context.Background(), c))
	for _, room := range rooms {
		require.NoError(t, fx.svc.HandleJoin(context.Background(), c, room))
	}
	return c
}

func recvEvent(t *testing.T, c *hub.Client) map[string]any {
	t.Helper()
	select {
	case data := <-c.Send:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		return decoded
	case <-time.After(time.Second):
		t.Fatalf("no event delivered to %s", c.ID)
		return nil
	}
}

func assertSilent(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected event delivered to %s: %s", c.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendAcksSenderAndBroadcastsToOthers(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	fx.store.addParticipant("conv-1", "bob")

	alice := fx.connect(t, "conn-a", "alice", "conv-1")
	bob := fx.connect(t, "conn-b", "bob", "conv-1")

	// bob sees alice's presence broadcast from connect ordering; drain it.
	recvEvent(t, alice) // bob's online, delivered to alice

	require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", "hello", "cm-1"))

	ack := recvEvent(t, alice)
	assert.Equal(t, "message:ack", ack["type"])
	assert.Equal(t, "cm-1", ack["client_message_id"])
	msg := ack["message"].(map[string]any)
	assert.Equal(t, "srv-cm-1", msg["id"])
	assert.Equal(t, "hello", msg["content"])

	broadcast := recvEvent(t, bob)
	assert.Equal(t, "message:new", broadcast["type"])
	assert.Equal(t, "hello", broadcast["message"].(map[string]any)["content"])

	// The sender connection never receives its own message:new.
	assertSilent(t, alice)
}

func TestSendDuplicateIsAckOnly(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	fx.store.addParticipant("conv-1", "bob")

	alice := fx.connect(t, "conn-a", "alice", "conv-1")
	bob := fx.connect(t, "conn-b", "bob", "conv-1")
	recvEvent(t, alice) // drain bob's presence broadcast

	require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", "hello", "cm-1"))
	recvEvent(t, alice) // first ack
	recvEvent(t, bob)   // first broadcast

	// Retry of the same send: ack again, but recipients see nothing new.
	require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", "hello", "cm-1"))

	ack := recvEvent(t, alice)
	assert.Equal(t, "message:ack", ack["type"])
	assert.Equal(t, "srv-cm-1", ack["message"].(map[string]any)["id"])

	assertSilent(t, bob)
}

func TestSendRejectsNonParticipantWithoutPersisting(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "bob")

	alice := fx.connect(t, "conn-a", "alice")

	require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", "hello", "cm-1"))

	ev := recvEvent(t, alice)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, domain.ErrCodeForbidden, ev["code"])
	assert.Equal(t, "Forbidden", ev["message"])

	assert.Empty(t, fx.store.messages, "rejected send must not persist")
}

func TestSendValidatesContent(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	alice := fx.connect(t, "conn-a", "alice", "conv-1")

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t  "},
		{"over limit", strings.Repeat("x", 2001)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", tt.content, "cm-1"))
			ev := recvEvent(t, alice)
			assert.Equal(t, "error", ev["type"])
			assert.Equal(t, domain.ErrCodeInvalidContent, ev["code"])
		})
	}

	assert.Empty(t, fx.store.messages)
}

func TestSendAtContentLimitSucceeds(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	alice := fx.connect(t, "conn-a", "alice", "conv-1")

	// Limit counts runes, not bytes.
	content := strings.Repeat("語", 2000)
	require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", content, "cm-1"))

	ev := recvEvent(t, alice)
	assert.Equal(t, "message:ack", ev["type"])
}

func TestSendRequiresClientMessageID(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	alice := fx.connect(t, "conn-a", "alice", "conv-1")

	require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", "hello", ""))

	ev := recvEvent(t, alice)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, domain.ErrCodeBadRequest, ev["code"])
}

func TestSendClearsTypingFlag(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	alice := fx.connect(t, "conn-a", "alice", "conv-1")

	require.NoError(t, fx.svc.HandleTypingStart(context.Background(), alice, "conv-1"))
	users, _ := fx.tracker.GetTypingUsers(context.Background(), "conv-1")
	require.Equal(t, []string{"alice"}, users)

	require.NoError(t, fx.svc.HandleSend(context.Background(), alice, "conv-1", "done typing", "cm-1"))

	users, _ = fx.tracker.GetTypingUsers(context.Background(), "conv-1")
	assert.Empty(t, users, "sending implies no longer composing")
}

func TestJoinDeniedForNonParticipant(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "bob")

	alice := fx.connect(t, "conn-a", "alice")
	require.NoError(t, fx.svc.HandleJoin(context.Background(), alice, "conv-1"))

	ev := recvEvent(t, alice)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, domain.ErrCodeForbidden, ev["code"])
	// Denial carries no membership detail.
	assert.Equal(t, "Forbidden", ev["message"])

	assert.False(t, fx.hub.InRoom(alice.ID, "conv-1"))
}

func TestPresenceBroadcastOnlyOnFirstAndLastConnection(t *testing.T) {
	fx := newFixture(t)

	observer := fx.connect(t, "conn-obs", "carol")

	// First connection: one online broadcast.
	a1 := fx.connect(t, "conn-a1", "alice")
	ev := recvEvent(t, observer)
	assert.Equal(t, "presence:update", ev["type"])
	assert.Equal(t, "alice", ev["user_id"])
	assert.Equal(t, "online", ev["status"])

	// Second connection of the same user: silent.
	a2 := fx.connect(t, "conn-a2", "alice")
	assertSilent(t, observer)

	// Dropping one of two connections: still online, silent.
	require.NoError(t, fx.svc.HandleDisconnect(context.Background(), a1))
	assertSilent(t, observer)

	// Last connection gone: one offline broadcast.
	require.NoError(t, fx.svc.HandleDisconnect(context.Background(), a2))
	ev = recvEvent(t, observer)
	assert.Equal(t, "presence:update", ev["type"])
	assert.Equal(t, "offline", ev["status"])
}

func TestTypingUpdateIncludesCurrentTypists(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	fx.store.addParticipant("conv-1", "bob")

	alice := fx.connect(t, "conn-a", "alice", "conv-1")
	bob := fx.connect(t, "conn-b", "bob", "conv-1")
	recvEvent(t, alice) // drain bob's presence broadcast

	require.NoError(t, fx.svc.HandleTypingStart(context.Background(), alice, "conv-1"))

	// Typing updates repaint the full set for everyone in the room,
	// including the typist.
	for _, c := range []*hub.Client{alice, bob} {
		ev := recvEvent(t, c)
		assert.Equal(t, "typing:update", ev["type"])
		assert.Equal(t, []any{"alice"}, ev["user_ids"])
	}

	require.NoError(t, fx.svc.HandleTypingStop(context.Background(), alice, "conv-1"))
	for _, c := range []*hub.Client{alice, bob} {
		ev := recvEvent(t, c)
		assert.Equal(t, "typing:update", ev["type"])
		assert.Equal(t, []any{}, ev["user_ids"])
	}
}

func TestReadPersistsServerTimeAndEchoesClientTimestamp(t *testing.T) {
	fx := newFixture(t)
	fx.store.addParticipant("conv-1", "alice")
	fx.store.addParticipant("conv-1", "bob")

	alice := fx.connect(t, "conn-a", "alice", "conv-1")
	bob := fx.connect(t, "conn-b", "bob", "conv-1")
	recvEvent(t, alice) // drain bob's presence broadcast

	clientTS := "2026-08-28T09:00:00Z"
	before := time.Now().UTC()
	require.NoError(t, fx.svc.HandleRead(context.Background(), alice, "conv-1", clientTS))

	// Persisted position comes from the server clock, not the client value.
	persisted := fx.store.lastRead["conv-1|alice"]
	assert.False(t, persisted.Before(before))

	// The room sees the client timestamp untouched; the reader's own
	// connection is excluded.
	ev := recvEvent(t, bob)
	assert.Equal(t, "messages:read", ev["type"])
	assert.Equal(t, "alice", ev["user_id"])
	assert.Equal(t, clientTS, ev["timestamp"])
	assertSilent(t, alice)
}

func TestReadDeniedForNonParticipant(t *testing.T) {
	fx := newFixture(t)
	alice := fx.connect(t, "conn-a", "alice")

	require.NoError(t, fx.svc.HandleRead(context.Background(), alice, "conv-1", "2026-08-28T09:00:00Z"))

	ev := recvEvent(t, alice)
	assert.Equal(t, "error", ev["type"])
	assert.Equal(t, domain.ErrCodeForbidden, ev["code"])
}
