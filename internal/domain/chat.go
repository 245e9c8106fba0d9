package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors shared across store, service and handlers.
var (
	ErrForbidden      = errors.New("not a participant of conversation")
	ErrInvalidContent = errors.New("invalid message content")
)

// NormalizeContent trims surrounding whitespace and validates message
// content: non-empty after the trim and at most maxRunes runes (runes, not
// bytes). It returns the normalized content or ErrInvalidContent.
func NormalizeContent(content string, maxRunes int) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxRunes {
		return "", ErrInvalidContent
	}
	return content, nil
}

// ConversationType classifies a conversation.
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationSupport ConversationType = "support"
)

// ParticipantRole is a participant's standing within a conversation.
type ParticipantRole string

const (
	RoleMember  ParticipantRole = "member"
	RoleTrainer ParticipantRole = "trainer"
	RoleStaff   ParticipantRole = "staff"
	RoleAdmin   ParticipantRole = "admin"
)

// Conversation groups a participant set and an ordered message history.
type Conversation struct {
	ID        string           `json:"id"`
	Type      ConversationType `json:"type"`
	Name      string           `json:"name,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Participant is a user with standing membership in a conversation.
type Participant struct {
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Role           ParticipantRole `json:"role"`
	JoinedAt       time.Time       `json:"joined_at"`
	LastReadAt     time.Time       `json:"last_read_at"`
}

// Message is immutable once persisted. CreatedAt is server-assigned and is
// the single ordering authority; client clocks are never trusted.
type Message struct {
	ID              string    `json:"id"`
	ConversationID  string    `json:"conversation_id"`
	SenderID        string    `json:"sender_id"`
	Content         string    `json:"content"`
	ClientMessageID string    `json:"client_message_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// ConversationSummary is the incrementally maintained view consumed by the
// conversation list: the last message plus the caller's unread count.
type ConversationSummary struct {
	Conversation
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *Message      `json:"last_message,omitempty"`
	UnreadCount  int64         `json:"unread_count"`
}
