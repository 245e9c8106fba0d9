// Package chatsync is the Go client for the chat-sync realtime gateway. It
// speaks the gateway's websocket protocol and maintains the client-side
// reconciliation state (Outbox) and conversation summaries
// (SummaryProjection) against the server's acknowledgments.
package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message mirrors the gateway's wire representation of a persisted message.
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	Content         string    `json:"content"`
	ClientMessageID string    `json:"client_message_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Handlers holds the application callbacks for server events. Nil fields are
// skipped. Callbacks run on the read loop goroutine.
type Handlers struct {
	OnMessageNew     func(Message)
	OnTypingUpdate   func(conversationID string, userIDs []string)
	OnPresenceUpdate func(userID, status string)
	OnReadUpdate     func(conversationID, userID, timestamp string)
	OnError          func(code, message string)
	OnDisconnect     func(err error)

	// OnResync fires after Reconnect has re-joined the previously open
	// rooms. The gateway replays nothing, so the application must re-fetch
	// history through the paginated REST interface here.
	OnResync func()
}

// Option configures a Client.
type Option func(*Client)

// WithAckTimeout sets the window after which an unacknowledged send is
// locally marked failed.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) { c.ackTimeout = d }
}

// WithHandlers sets the event callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// Client is a chat-sync gateway client for one user.
type Client struct {
	baseURL    string // ws:// or wss:// endpoint, without the token
	userID     string
	ackTimeout time.Duration
	dialer     *websocket.Dialer
	handlers   Handlers

	Outbox  *Outbox
	Summary *SummaryProjection

	mu        sync.Mutex
	conn      *websocket.Conn
	rooms     map[string]struct{} // joined rooms, re-joined on reconnect
	connected bool
}

// New creates a client for the given gateway URL (e.g. wss://host/ws) and
// user. The user id must match the identity inside the connect token.
func New(baseURL, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		userID:     userID,
		ackTimeout: 10 * time.Second,
		dialer:     websocket.DefaultDialer,
		rooms:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Outbox = NewOutbox(c.ackTimeout)
	c.Summary = NewSummaryProjection(userID)
	return c
}

// Connect dials the gateway with a connect token. The token is short-lived;
// a fresh one is needed for every (re)connection.
func (c *Client) Connect(ctx context.Context, connectToken string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid gateway url: %w", err)
	}
	q := u.Query()
	q.Set("token", connectToken)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

// Reconnect re-authenticates with a fresh token, re-joins every previously
// open room and fires OnResync. Missed broadcasts are gone; the application
// re-fetches history itself.
func (c *Client) Reconnect(ctx context.Context, connectToken string) error {
	if err := c.Connect(ctx, connectToken); err != nil {
		return err
	}

	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	for _, id := range rooms {
		if err := c.send(&joinFrame{Type: "join", ConversationID: id}); err != nil {
			return err
		}
	}

	if c.handlers.OnResync != nil {
		c.handlers.OnResync()
	}
	return nil
}

// Close tears down the connection and stops outbox timers.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	c.Outbox.Close()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Join subscribes to a conversation's broadcasts.
func (c *Client) Join(conversationID string) error {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	return c.send(&joinFrame{Type: "join", ConversationID: conversationID})
}

// Leave unsubscribes from a conversation's broadcasts.
func (c *Client) Leave(conversationID string) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	return c.send(&joinFrame{Type: "leave", ConversationID: conversationID})
}

// Send enqueues an optimistic message and issues the send. The returned
// client message id keys the Outbox entry that tracks reconciliation.
func (c *Client) Send(conversationID, content string) (string, error) {
	clientMessageID := uuid.New().String()

	entry := c.Outbox.Add(conversationID, c.userID, content, clientMessageID)
	c.Summary.ApplyMessage(&Message{
		ConversationID:  conversationID,
		SenderID:        c.userID,
		Content:         content,
		ClientMessageID: clientMessageID,
		CreatedAt:       entry.CreatedAt,
	})

	err := c.send(&sendFrame{
		Type:            "message:send",
		ConversationID:  conversationID,
		Content:         content,
		ClientMessageID: clientMessageID,
	})
	return clientMessageID, err
}

// Retry re-issues a failed send, reusing its client message id so the
// gateway's dedup guarantee holds even when the original actually landed.
func (c *Client) Retry(clientMessageID string) error {
	entry, ok := c.Outbox.Retry(clientMessageID)
	if !ok {
		return fmt.Errorf("no failed entry for %s", clientMessageID)
	}
	return c.send(&sendFrame{
		Type:            "message:send",
		ConversationID:  entry.ConversationID,
		Content:         entry.Content,
		ClientMessageID: entry.ClientMessageID,
	})
}

// StartTyping signals active composition; the flag self-expires server-side.
func (c *Client) StartTyping(conversationID string) error {
	return c.send(&joinFrame{Type: "typing:start", ConversationID: conversationID})
}

// StopTyping clears the typing flag.
func (c *Client) StopTyping(conversationID string) error {
	return c.send(&joinFrame{Type: "typing:stop", ConversationID: conversationID})
}

// MarkRead persists the authoritative last-read position and clears the
// local unread badge immediately.
func (c *Client) MarkRead(conversationID string, timestamp time.Time) error {
	c.Summary.Open(conversationID)
	return c.send(&readFrame{
		Type:           "messages:read",
		ConversationID: conversationID,
		Timestamp:      timestamp.UTC().Format(time.RFC3339Nano),
	})
}

type joinFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type sendFrame struct {
	Type            string `json:"type"`
	ConversationID  string `json:"conversation_id"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

type readFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Timestamp      string `json:"timestamp"`
}

func (c *Client) send(frame interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(frame)
}

type serverFrame struct {
	Type            string   `json:"type"`
	Message         *Message `json:"message"`
	ClientMessageID string   `json:"client_message_id"`
	ConversationID  string   `json:"conversation_id"`
	UserID          string   `json:"user_id"`
	UserIDs         []string `json:"user_ids"`
	Status          string   `json:"status"`
	Timestamp       string   `json:"timestamp"`
}

type errorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected && c.conn == conn
			if wasConnected {
				c.connected = false
				c.conn = nil
			}
			c.mu.Unlock()
			if wasConnected && c.handlers.OnDisconnect != nil {
				c.handlers.OnDisconnect(err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return
	}

	// Error frames first: their string "message" field does not fit
	// serverFrame's message object.
	if head.Type == "error" {
		if c.handlers.OnError != nil {
			var ef errorFrame
			if json.Unmarshal(data, &ef) == nil {
				c.handlers.OnError(ef.Code, ef.Message)
			}
		}
		return
	}

	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	switch head.Type {
	case "message:ack":
		if frame.Message != nil {
			c.Outbox.Ack(frame.ClientMessageID, frame.Message)
			c.Summary.ApplyMessage(frame.Message)
		}

	case "message:new":
		if frame.Message != nil {
			c.Summary.ApplyMessage(frame.Message)
			if c.handlers.OnMessageNew != nil {
				c.handlers.OnMessageNew(*frame.Message)
			}
		}

	case "typing:update":
		if c.handlers.OnTypingUpdate != nil {
			c.handlers.OnTypingUpdate(frame.ConversationID, frame.UserIDs)
		}

	case "presence:update":
		if c.handlers.OnPresenceUpdate != nil {
			c.handlers.OnPresenceUpdate(frame.UserID, frame.Status)
		}

	case "messages:read":
		if c.handlers.OnReadUpdate != nil {
			c.handlers.OnReadUpdate(frame.ConversationID, frame.UserID, frame.Timestamp)
		}
	}
}
