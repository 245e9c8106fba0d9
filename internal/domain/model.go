package domain

import (
	"time"
)

// ConversationModel is the GORM model for the conversations table.
type ConversationModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Type      string    `gorm:"type:varchar(16);not null"`
	Name      string    `gorm:"type:varchar(100)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (ConversationModel) TableName() string {
	return "conversations"
}

func (m *ConversationModel) ToDomain() *Conversation {
	return &Conversation{
		ID:        m.ID,
		Type:      ConversationType(m.Type),
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// ParticipantModel is the GORM model for the conversation_participants table.
type ParticipantModel struct {
	ConversationID string    `gorm:"type:varchar(36);primaryKey"`
	UserID         string    `gorm:"type:varchar(36);primaryKey;index"`
	Role           string    `gorm:"type:varchar(16);not null;default:member"`
	JoinedAt       time.Time `gorm:"autoCreateTime"`
	LastReadAt     time.Time
}

func (ParticipantModel) TableName() string {
	return "conversation_participants"
}

func (m *ParticipantModel) ToDomain() *Participant {
	return &Participant{
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Role:           ParticipantRole(m.Role),
		JoinedAt:       m.JoinedAt,
		LastReadAt:     m.LastReadAt,
	}
}

// MessageModel is the GORM model for the messages table. The composite unique
// index on (conversation_id, client_message_id) is what makes SaveMessage
// idempotent under concurrent delivery of the same send.
type MessageModel struct {
	ID              string    `gorm:"type:varchar(36);primaryKey"`
	ConversationID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_messages_dedup;index:idx_messages_history,priority:1"`
	SenderID        string    `gorm:"type:varchar(36);not null"`
	Content         string    `gorm:"type:text;not null"`
	ClientMessageID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_messages_dedup"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_messages_history,priority:2"`
}

func (MessageModel) TableName() string {
	return "messages"
}

func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		ClientMessageID: m.ClientMessageID,
		CreatedAt:       m.CreatedAt,
	}
}

func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:              msg.ID,
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Content:         msg.Content,
		ClientMessageID: msg.ClientMessageID,
		CreatedAt:       msg.CreatedAt,
	}
}
