package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/chat-sync/internal/domain"
)

// GormChatStore implements ChatStore using GORM.
type GormChatStore struct {
	db *gorm.DB
}

// NewGormChatStore creates a new GORM-based chat store.
func NewGormChatStore(db *gorm.DB) *GormChatStore {
	return &GormChatStore{db: db}
}

func (s *GormChatStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&domain.ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

func (s *GormChatStore) SaveMessage(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	// Fast path: the send was already persisted (retry after a dropped ack).
	existing, err := s.findByClientMessageID(ctx, msg.ConversationID, msg.ClientMessageID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	model := &domain.MessageModel{
		ID:              uuid.New().String(),
		ConversationID:  msg.ConversationID,
		SenderID:        msg.SenderID,
		Content:         msg.Content,
		ClientMessageID: msg.ClientMessageID,
		CreatedAt:       time.Now().UTC(),
	}

	result := s.db.WithContext(ctx).Create(model)
	if result.Error != nil {
		// A concurrent duplicate of the same send won the insert; the unique
		// index on (conversation_id, client_message_id) guarantees at most
		// one row, so return the row that won.
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			existing, err := s.findByClientMessageID(ctx, msg.ConversationID, msg.ClientMessageID)
			if err != nil {
				return nil, false, err
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, result.Error
	}

	return model.ToDomain(), true, nil
}

func (s *GormChatStore) findByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (*domain.Message, error) {
	var model domain.MessageModel
	result := s.db.WithContext(ctx).
		Where("conversation_id = ? AND client_message_id = ?", conversationID, clientMessageID).
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

func (s *GormChatStore) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]*domain.Message, error) {
	query := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before)
	}

	var models []domain.MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]*domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, models[i].ToDomain())
	}
	return messages, nil
}

func (s *GormChatStore) UpdateLastRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.ParticipantModel{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("last_read_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrForbidden
	}
	return nil
}

func (s *GormChatStore) CreateConversation(ctx context.Context, convType domain.ConversationType, name string, participantIDs []string) (*domain.Conversation, error) {
	conv := &domain.ConversationModel{
		ID:   uuid.New().String(),
		Type: string(convType),
		Name: name,
	}

	// Deduplicate participant ids up front.
	seen := make(map[string]struct{}, len(participantIDs))
	unique := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, userID := range unique {
			p := &domain.ParticipantModel{
				ConversationID: conv.ID,
				UserID:         userID,
				Role:           string(domain.RoleMember),
				LastReadAt:     time.Now().UTC(),
			}
			if err := tx.Create(p).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return conv.ToDomain(), nil
}

func (s *GormChatStore) ListConversations(ctx context.Context, userID string) ([]*domain.ConversationSummary, error) {
	var memberships []domain.ParticipantModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&memberships).Error; err != nil {
		return nil, err
	}

	summaries := make([]*domain.ConversationSummary, 0, len(memberships))
	for i := range memberships {
		m := &memberships[i]

		var conv domain.ConversationModel
		if err := s.db.WithContext(ctx).First(&conv, "id = ?", m.ConversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}

		summary := &domain.ConversationSummary{Conversation: *conv.ToDomain()}

		var participants []domain.ParticipantModel
		if err := s.db.WithContext(ctx).
			Where("conversation_id = ?", m.ConversationID).
			Find(&participants).Error; err != nil {
			return nil, err
		}
		for j := range participants {
			summary.Participants = append(summary.Participants, *participants[j].ToDomain())
		}

		var last domain.MessageModel
		err := s.db.WithContext(ctx).
			Where("conversation_id = ?", m.ConversationID).
			Order("created_at DESC").
			First(&last).Error
		switch {
		case err == nil:
			summary.LastMessage = last.ToDomain()
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, err
		}

		// Unread counts only the other side's messages, per the projection
		// rule that a sender never accrues unread for their own sends.
		if err := s.db.WithContext(ctx).Model(&domain.MessageModel{}).
			Where("conversation_id = ? AND created_at > ? AND sender_id <> ?",
				m.ConversationID, m.LastReadAt, userID).
			Count(&summary.UnreadCount).Error; err != nil {
			return nil, err
		}

		summaries = append(summaries, summary)
	}

	sortSummaries(summaries)
	return summaries, nil
}

// sortSummaries orders by last activity, newest first; conversations with no
// messages fall back to their creation time.
func sortSummaries(summaries []*domain.ConversationSummary) {
	lastActivity := func(s *domain.ConversationSummary) time.Time {
		if s.LastMessage != nil {
			return s.LastMessage.CreatedAt
		}
		return s.CreatedAt
	}

	sort.Slice(summaries, func(i, j int) bool {
		return lastActivity(summaries[i]).After(lastActivity(summaries[j]))
	})
}
