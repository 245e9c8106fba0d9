package store

import (
	"context"
	"time"

	"github.com/weiawesome/chat-sync/internal/domain"
)

// ChatStore is the durable side of the delivery pipeline: participant
// membership lookups, idempotent message persistence and the authoritative
// last-read timestamps.
type ChatStore interface {
	// IsParticipant reports whether userID has standing membership in the
	// conversation.
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// SaveMessage persists msg with a server-assigned id and timestamp.
	// If a message already exists for (conversation_id, client_message_id)
	// the existing row is returned and created is false; at most one row is
	// ever persisted per client message id.
	SaveMessage(ctx context.Context, msg *domain.Message) (saved *domain.Message, created bool, err error)

	// ListMessages returns up to limit messages, newest first. A zero before
	// means "from the latest"; otherwise only messages created strictly
	// before the cursor are returned.
	ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*domain.Message, error)

	// UpdateLastRead persists the caller's authoritative last-read timestamp.
	UpdateLastRead(ctx context.Context, conversationID, userID string, at time.Time) error

	CreateConversation(ctx context.Context, convType domain.ConversationType, name string, participantIDs []string) (*domain.Conversation, error)

	// ListConversations returns the caller's conversations with last message
	// and unread count, most recently active first.
	ListConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error)
}
