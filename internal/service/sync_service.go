package service

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/chat-sync/internal/audit"
	"github.com/weiawesome/chat-sync/internal/domain"
	"github.com/weiawesome/chat-sync/internal/hub"
	"github.com/weiawesome/chat-sync/internal/presence"
	"github.com/weiawesome/chat-sync/internal/pubsub"
	"github.com/weiawesome/chat-sync/internal/store"
	"github.com/weiawesome/chat-sync/pkg/log"
)

// Config holds delivery pipeline limits.
type Config struct {
	MaxContentLength int
}

type syncService struct {
	hub     *hub.Hub
	store   store.ChatStore
	tracker presence.Tracker
	relay   *pubsub.Relay // nil when running a single instance
	cfg     Config
}

// NewSyncService creates the gateway's event service. relay may be nil.
func NewSyncService(h *hub.Hub, st store.ChatStore, tr presence.Tracker, relay *pubsub.Relay, cfg Config) SyncService {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 2000
	}
	return &syncService{
		hub:     h,
		store:   st,
		tracker: tr,
		relay:   relay,
		cfg:     cfg,
	}
}

// broadcastRoom delivers to the local broadcast group and to every other
// gateway instance via the relay.
func (s *syncService) broadcastRoom(ctx context.Context, conversationID string, event interface{}, excludeConn string) {
	if err := s.hub.BroadcastToRoom(conversationID, event, excludeConn); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldConversationID, conversationID).
			Msg("room broadcast failed")
		return
	}
	if s.relay != nil {
		if err := s.relay.Publish(ctx, conversationID, event); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("relay publish failed")
		}
	}
}

func (s *syncService) broadcastGlobal(ctx context.Context, event interface{}, excludeConn string) {
	if err := s.hub.BroadcastAll(event, excludeConn); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("global broadcast failed")
		return
	}
	if s.relay != nil {
		if err := s.relay.Publish(ctx, "", event); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("relay publish failed")
		}
	}
}

func (s *syncService) HandleConnect(ctx context.Context, c *hub.Client) error {
	first, err := s.tracker.SetOnline(ctx, c.UserID, c.ID)
	if err != nil {
		// Presence degrades silently; the TTL store heals on its own.
		log.Ctx(ctx).Warn().Err(err).
			Str(log.FieldUserID, c.UserID).
			Msg("presence set online failed")
		return nil
	}

	if first {
		s.broadcastGlobal(ctx, domain.NewPresenceUpdate(c.UserID, domain.StatusOnline), c.ID)
	}

	audit.Log(ctx, audit.ActionConnect, c.UserID, "client connected")
	return nil
}

func (s *syncService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	last, err := s.tracker.SetOffline(ctx, c.UserID, c.ID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str(log.FieldUserID, c.UserID).
			Msg("presence set offline failed")
		return nil
	}

	// Exactly one offline broadcast per drain-to-empty transition.
	if last {
		s.broadcastGlobal(ctx, domain.NewPresenceUpdate(c.UserID, domain.StatusOffline), c.ID)
	}

	audit.Log(ctx, audit.ActionDisconnect, c.UserID, "client disconnected")
	return nil
}

func (s *syncService) HandleJoin(ctx context.Context, c *hub.Client, conversationID string) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, c.UserID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldConversationID, conversationID).
			Msg("participant lookup failed")
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeInternalError, "Failed to join conversation"))
	}
	if !ok {
		// Generic denial only; membership details never leak.
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeForbidden, "Forbidden"))
	}

	s.hub.JoinRoom(c, conversationID)
	audit.LogWithDetail(ctx, audit.ActionJoin, c.UserID, conversationID, "joined conversation")
	return nil
}

func (s *syncService) HandleLeave(ctx context.Context, c *hub.Client, conversationID string) error {
	s.hub.LeaveRoom(c, conversationID)
	audit.LogWithDetail(ctx, audit.ActionLeave, c.UserID, conversationID, "left conversation")
	return nil
}

func (s *syncService) HandleSend(ctx context.Context, c *hub.Client, conversationID, content, clientMessageID string) error {
	if clientMessageID == "" {
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeBadRequest, "client_message_id is required"))
	}

	content, err := domain.NormalizeContent(content, s.cfg.MaxContentLength)
	if errors.Is(err, domain.ErrInvalidContent) {
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeInvalidContent, "Invalid message content"))
	}

	// Authorization check and the insert below are not serialized against a
	// concurrent participant removal; the narrow race is accepted.
	ok, err := s.store.IsParticipant(ctx, conversationID, c.UserID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldConversationID, conversationID).
			Msg("participant lookup failed")
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeInternalError, "Failed to send message"))
	}
	if !ok {
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeForbidden, "Forbidden"))
	}

	msg, created, err := s.store.SaveMessage(ctx, &domain.Message{
		ConversationID:  conversationID,
		SenderID:        c.UserID,
		Content:         content,
		ClientMessageID: clientMessageID,
	})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldConversationID, conversationID).
			Str(log.FieldClientMessageID, clientMessageID).
			Msg("message persist failed")
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeInternalError, "Failed to send message"))
	}

	// Ack goes to the originating connection only; it carries the
	// server-authoritative message the client reconciles against.
	if err := c.SendEvent(domain.NewMessageAck(clientMessageID, msg)); err != nil {
		return err
	}

	// Recipients see the message once: only the insert that won the unique
	// index broadcasts; a retried duplicate is ack-only.
	if created {
		s.broadcastRoom(ctx, conversationID, domain.NewMessageNew(msg), c.ID)
	}

	if err := s.tracker.ClearTyping(ctx, conversationID, c.UserID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("typing clear failed")
	}

	audit.LogWithDetail(ctx, audit.ActionSend, c.UserID, conversationID, "message sent")
	return nil
}

func (s *syncService) HandleTypingStart(ctx context.Context, c *hub.Client, conversationID string) error {
	if err := s.tracker.SetTyping(ctx, conversationID, c.UserID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("typing set failed")
		return nil
	}
	s.broadcastTyping(ctx, conversationID)
	return nil
}

func (s *syncService) HandleTypingStop(ctx context.Context, c *hub.Client, conversationID string) error {
	if err := s.tracker.ClearTyping(ctx, conversationID, c.UserID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("typing clear failed")
		return nil
	}
	s.broadcastTyping(ctx, conversationID)
	return nil
}

func (s *syncService) broadcastTyping(ctx context.Context, conversationID string) {
	users, err := s.tracker.GetTypingUsers(ctx, conversationID)
	if err != nil {
		// Degrades to absent; the next start/stop repaints the state.
		log.Ctx(ctx).Warn().Err(err).Msg("typing lookup failed")
		return
	}
	s.broadcastRoom(ctx, conversationID, domain.NewTypingUpdate(conversationID, users), "")
}

func (s *syncService) HandleRead(ctx context.Context, c *hub.Client, conversationID, timestamp string) error {
	// The server clock is authoritative for last-read; the client timestamp
	// is echoed to the room untouched.
	err := s.store.UpdateLastRead(ctx, conversationID, c.UserID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeForbidden, "Forbidden"))
		}
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldConversationID, conversationID).
			Msg("last read update failed")
		return c.SendEvent(domain.NewErrorEvent(domain.ErrCodeInternalError, "Failed to mark read"))
	}

	s.broadcastRoom(ctx, conversationID, domain.NewReadUpdate(conversationID, c.UserID, timestamp), c.ID)
	audit.LogWithDetail(ctx, audit.ActionRead, c.UserID, conversationID, "marked read")
	return nil
}

func (s *syncService) Heartbeat(ctx context.Context, c *hub.Client) {
	if err := s.tracker.Heartbeat(ctx, c.UserID); err != nil {
		log.Ctx(ctx).Debug().Err(err).
			Str(log.FieldUserID, c.UserID).
			Msg("presence heartbeat failed")
	}
}
