package hub

import (
	"encoding/json"
	"sync"

	"github.com/weiawesome/chat-sync/pkg/log"
)

// Hub is the connection registry: it maps live connections to authenticated
// users and conversation broadcast groups. It is the only path to connection
// state; nothing else holds process-wide connection maps.
type Hub struct {
	clients    map[string]*Client            // connection id -> client
	rooms      map[string]map[string]*Client // conversation id -> connection id -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Envelope
	mu         sync.RWMutex
}

// Envelope is a queued outbound fan-out. An empty ConversationID targets
// every connected client (global broadcasts such as presence updates).
type Envelope struct {
	ConversationID string
	Payload        []byte
	ExcludeConn    string
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Envelope, 256),
	}
}

// Run processes registration and fan-out until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			log.L().Debug().
				Str(log.FieldConnectionID, client.ID).
				Str(log.FieldUserID, client.UserID).
				Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for conversationID, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, conversationID)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			log.L().Debug().
				Str(log.FieldConnectionID, client.ID).
				Msg("client unregistered")

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

func (h *Hub) deliver(env *Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if env.ConversationID != "" {
		targets = h.rooms[env.ConversationID]
	}

	for connID, client := range targets {
		if connID == env.ExcludeConn {
			continue
		}
		select {
		case client.Send <- env.Payload:
		default:
			// Slow consumer; drop the frame rather than block the hub.
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom adds the connection to a conversation's broadcast group.
func (h *Hub) JoinRoom(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[conversationID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[conversationID] = members
	}
	members[client.ID] = client
}

// LeaveRoom removes the connection from a broadcast group. Idempotent.
func (h *Hub) LeaveRoom(client *Client, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(members, client.ID)
	if len(members) == 0 {
		delete(h.rooms, conversationID)
	}
}

// InRoom reports whether the connection is currently in the broadcast group.
func (h *Hub) InRoom(connID, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	_, ok = members[connID]
	return ok
}

// RoomSize returns the number of connections in a broadcast group.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// ConnectionsForUser returns the ids of this instance's live connections
// owned by userID.
func (h *Hub) ConnectionsForUser(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids []string
	for connID, client := range h.clients {
		if client.UserID == userID {
			ids = append(ids, connID)
		}
	}
	return ids
}

// BroadcastToRoom fans an event out to a conversation's broadcast group,
// excluding excludeConn when non-empty.
func (h *Hub) BroadcastToRoom(conversationID string, event interface{}, excludeConn string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.broadcast <- &Envelope{ConversationID: conversationID, Payload: payload, ExcludeConn: excludeConn}
	return nil
}

// ForwardRaw enqueues an already-encoded frame, used when relaying events
// published by another gateway instance. An empty conversationID targets all
// connected clients.
func (h *Hub) ForwardRaw(conversationID string, payload []byte) {
	h.broadcast <- &Envelope{ConversationID: conversationID, Payload: payload}
}

// BroadcastAll fans an event out to every connected client.
func (h *Hub) BroadcastAll(event interface{}, excludeConn string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.broadcast <- &Envelope{Payload: payload, ExcludeConn: excludeConn}
	return nil
}
