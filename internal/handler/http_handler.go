package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/chat-sync/internal/config"
	"github.com/weiawesome/chat-sync/internal/domain"
	"github.com/weiawesome/chat-sync/internal/store"
	"github.com/weiawesome/chat-sync/pkg/log"
	"github.com/weiawesome/chat-sync/pkg/token"
)

const (
	defaultPageSize = 50
	maxLimit        = 100
)

// HTTPHandler serves the request/response surface: connect-token issuance,
// conversation listing/creation, paginated history and the authoritative
// mark-read call.
type HTTPHandler struct {
	store    store.ChatStore
	tokens   *token.Manager
	pageSize int
}

func NewHTTPHandler(st store.ChatStore, tokens *token.Manager, chatCfg config.ChatConfig) *HTTPHandler {
	pageSize := chatCfg.HistoryPageSize
	if pageSize <= 0 || pageSize > maxLimit {
		pageSize = defaultPageSize
	}
	return &HTTPHandler{store: st, tokens: tokens, pageSize: pageSize}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	api.Use(h.requireAccessToken())
	{
		api.POST("/connect-tokens", h.IssueConnectToken)
		api.GET("/conversations", h.ListConversations)
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations/:id/messages", h.GetMessages)
		api.POST("/conversations/:id/read", h.MarkRead)
	}

	r.GET("/health", h.HealthCheck)
}

// requireAccessToken verifies the primary-session Bearer token and stores the
// caller's user id in the request context.
func (h *HTTPHandler) requireAccessToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := h.tokens.Verify(strings.TrimPrefix(auth, "Bearer "), token.TypeAccess)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString("user_id")
}

// IssueConnectToken exchanges a valid primary session for a short-lived
// websocket connect token.
func (h *HTTPHandler) IssueConnectToken(c *gin.Context) {
	connectToken, err := h.tokens.MintConnect(callerID(c))
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("connect token mint failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": connectToken})
}

func (h *HTTPHandler) ListConversations(c *gin.Context) {
	summaries, err := h.store.ListConversations(c.Request.Context(), callerID(c))
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("conversation list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

type createConversationRequest struct {
	Type           string   `json:"type" binding:"required"`
	Name           string   `json:"name"`
	ParticipantIDs []string `json:"participant_ids" binding:"required"`
}

func (h *HTTPHandler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	convType := domain.ConversationType(req.Type)
	switch convType {
	case domain.ConversationDirect, domain.ConversationGroup, domain.ConversationSupport:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation type"})
		return
	}

	// The creator is always a participant.
	participantIDs := append([]string{callerID(c)}, req.ParticipantIDs...)

	conv, err := h.store.CreateConversation(c.Request.Context(), convType, req.Name, participantIDs)
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("conversation create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}

	c.JSON(http.StatusCreated, conv)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	conversationID := c.Param("id")

	ok, err := h.store.IsParticipant(c.Request.Context(), conversationID, callerID(c))
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("participant lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	var before time.Time
	if beforeStr := c.Query("before"); beforeStr != "" {
		before, err = time.Parse(time.RFC3339Nano, beforeStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "before must be RFC3339"})
			return
		}
	}

	limit := h.pageSize
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
		if limit > maxLimit {
			limit = maxLimit
		}
	}

	messages, err := h.store.ListMessages(c.Request.Context(), conversationID, before, limit)
	if err != nil {
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("message list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"has_more": len(messages) == limit,
	})
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("id")

	err := h.store.UpdateLastRead(c.Request.Context(), conversationID, callerID(c), time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		log.Ctx(c.Request.Context()).Error().Err(err).Msg("last read update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
