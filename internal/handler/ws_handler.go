package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/chat-sync/internal/audit"
	"github.com/weiawesome/chat-sync/internal/config"
	"github.com/weiawesome/chat-sync/internal/domain"
	"github.com/weiawesome/chat-sync/internal/hub"
	"github.com/weiawesome/chat-sync/internal/service"
	"github.com/weiawesome/chat-sync/pkg/log"
	"github.com/weiawesome/chat-sync/pkg/token"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler is the socket gateway: it authenticates the handshake, owns the
// connection lifecycle and routes every inbound event to exactly one
// service handler.
type WSHandler struct {
	hub     *hub.Hub
	service service.SyncService
	tokens  *token.Manager
	wsCfg   config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, svc service.SyncService, tokens *token.Manager, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		tokens:  tokens,
		wsCfg:   wsCfg,
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", func(c *gin.Context) {
		h.HandleWebSocket(c.Writer, c.Request)
	})
}

// HandleWebSocket authenticates the connect token and upgrades. A missing,
// malformed or expired token terminates the attempt before any event
// exchange.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	claims, err := h.tokens.Verify(tokenStr, token.TypeConnect)
	if err != nil {
		audit.Log(r.Context(), audit.ActionAuthFailed, "", "websocket handshake rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), claims.UserID, claims.ExpiresAt.Time, h.hub, conn, h.wsCfg)
	client.OnPong = func() {
		h.service.Heartbeat(context.Background(), client)
	}

	h.hub.Register(client)
	if err := h.service.HandleConnect(r.Context(), client); err != nil {
		log.L().Warn().Err(err).
			Str(log.FieldUserID, client.UserID).
			Msg("connect handling failed")
	}

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleEvent)
		if err := h.service.HandleDisconnect(context.Background(), client); err != nil {
			log.L().Warn().Err(err).
				Str(log.FieldUserID, client.UserID).
				Msg("disconnect handling failed")
		}
	}()
}

// handleEvent dispatches one inbound frame. The event set is closed; anything
// outside it is rejected with an error event, never silently dropped.
func (h *WSHandler) handleEvent(c *hub.Client, raw []byte) {
	ctx := context.Background()

	ev, err := domain.DecodeInbound(raw)
	if err != nil {
		var unknown *domain.ErrUnknownEvent
		if errors.As(err, &unknown) {
			c.SendEvent(domain.NewErrorEvent(domain.ErrCodeBadRequest, unknown.Error()))
		} else {
			c.SendEvent(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid event format"))
		}
		return
	}

	switch ev := ev.(type) {
	case *domain.JoinEvent:
		err = h.service.HandleJoin(ctx, c, ev.ConversationID)
	case *domain.LeaveEvent:
		err = h.service.HandleLeave(ctx, c, ev.ConversationID)
	case *domain.MessageSendEvent:
		err = h.service.HandleSend(ctx, c, ev.ConversationID, ev.Content, ev.ClientMessageID)
	case *domain.TypingStartEvent:
		err = h.service.HandleTypingStart(ctx, c, ev.ConversationID)
	case *domain.TypingStopEvent:
		err = h.service.HandleTypingStop(ctx, c, ev.ConversationID)
	case *domain.ReadEvent:
		err = h.service.HandleRead(ctx, c, ev.ConversationID, ev.Timestamp)
	}

	if err != nil {
		log.L().Warn().Err(err).
			Str(log.FieldConnectionID, c.ID).
			Str(log.FieldUserID, c.UserID).
			Msg("event handling failed")
	}
}
