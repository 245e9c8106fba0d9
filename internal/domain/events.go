package domain

import (
	"encoding/json"
	"fmt"
)

// WebSocket event types from client.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventMessageSend = "message:send"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventRead        = "messages:read"
)

// WebSocket event types to client.
const (
	EventMessageNew     = "message:new"
	EventMessageAck     = "message:ack"
	EventTypingUpdate   = "typing:update"
	EventPresenceUpdate = "presence:update"
	EventReadUpdate     = "messages:read"
	EventError          = "error"
)

// Error codes.
const (
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeInvalidContent = "INVALID_CONTENT"
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// ErrUnknownEvent reports an inbound event type outside the closed set.
type ErrUnknownEvent struct {
	Type string
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// BaseEvent carries only the discriminator, used for the first decode pass.
type BaseEvent struct {
	Type string `json:"type"`
}

// Inbound is the closed set of client → server events. Decoding anything
// outside the set fails with ErrUnknownEvent; nothing is silently dropped.
type Inbound interface {
	inbound()
}

type JoinEvent struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveEvent struct {
	ConversationID string `json:"conversation_id"`
}

type MessageSendEvent struct {
	ConversationID  string `json:"conversation_id"`
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id"`
}

type TypingStartEvent struct {
	ConversationID string `json:"conversation_id"`
}

type TypingStopEvent struct {
	ConversationID string `json:"conversation_id"`
}

type ReadEvent struct {
	ConversationID string `json:"conversation_id"`
	Timestamp      string `json:"timestamp"`
}

func (*JoinEvent) inbound()        {}
func (*LeaveEvent) inbound()       {}
func (*MessageSendEvent) inbound() {}
func (*TypingStartEvent) inbound() {}
func (*TypingStopEvent) inbound()  {}
func (*ReadEvent) inbound()        {}

// DecodeInbound parses a raw frame into one of the closed inbound event types.
func DecodeInbound(data []byte) (Inbound, error) {
	var base BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	var ev Inbound
	switch base.Type {
	case EventJoin:
		ev = &JoinEvent{}
	case EventLeave:
		ev = &LeaveEvent{}
	case EventMessageSend:
		ev = &MessageSendEvent{}
	case EventTypingStart:
		ev = &TypingStartEvent{}
	case EventTypingStop:
		ev = &TypingStopEvent{}
	case EventRead:
		ev = &ReadEvent{}
	default:
		return nil, &ErrUnknownEvent{Type: base.Type}
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("malformed %s event: %w", base.Type, err)
	}
	return ev, nil
}

// Server -> client events.

type MessageNewEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type MessageAckEvent struct {
	Type            string   `json:"type"`
	ClientMessageID string   `json:"client_message_id"`
	Message         *Message `json:"message"`
}

type TypingUpdateEvent struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	UserIDs        []string `json:"user_ids"`
}

// Presence statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type PresenceUpdateEvent struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type ReadUpdateEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Timestamp      string `json:"timestamp"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewMessageNew(msg *Message) *MessageNewEvent {
	return &MessageNewEvent{Type: EventMessageNew, Message: msg}
}

func NewMessageAck(clientMessageID string, msg *Message) *MessageAckEvent {
	return &MessageAckEvent{Type: EventMessageAck, ClientMessageID: clientMessageID, Message: msg}
}

func NewTypingUpdate(conversationID string, userIDs []string) *TypingUpdateEvent {
	if userIDs == nil {
		userIDs = []string{}
	}
	return &TypingUpdateEvent{Type: EventTypingUpdate, ConversationID: conversationID, UserIDs: userIDs}
}

func NewPresenceUpdate(userID, status string) *PresenceUpdateEvent {
	return &PresenceUpdateEvent{Type: EventPresenceUpdate, UserID: userID, Status: status}
}

func NewReadUpdate(conversationID, userID, timestamp string) *ReadUpdateEvent {
	return &ReadUpdateEvent{Type: EventReadUpdate, ConversationID: conversationID, UserID: userID, Timestamp: timestamp}
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Type: EventError, Code: code, Message: message}
}
