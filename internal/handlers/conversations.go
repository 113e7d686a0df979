package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

var errInvalidCursor = errors.New("invalid cursor")

// ConversationHandler serves conversation history and read state.
type ConversationHandler struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	hub           *messaging.Hub
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversations repositories.ConversationRepository, messages repositories.MessageRepository, hub *messaging.Hub) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		hub:           hub,
	}
}

// ListConversations returns the caller's visible conversations, newest
// activity first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	conversations, err := h.conversations.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}
	if conversations == nil {
		conversations = []models.ConversationSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// GetMessages returns one page of history in ascending order. next_cursor
// is set when older messages may exist.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
	}

	var before *models.MessageCursor
	if raw := c.Query("before"); raw != "" {
		cursor, err := decodeCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		before = &cursor
	}

	userID := c.GetString(middleware.UserIDKey)
	member, err := h.conversations.IsMember(c.Request.Context(), conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), conversationID, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	resp := gin.H{"messages": msgs}
	if len(msgs) == limit {
		oldest := msgs[0]
		resp["next_cursor"] = encodeCursor(models.MessageCursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID})
	}
	c.JSON(http.StatusOK, resp)
}

// MarkRead marks the conversation's incoming messages as read for the caller.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	count, err := h.hub.MarkRead(c.Request.Context(), c.GetString(middleware.UserIDKey), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": count})
}

// DeleteConversationForMe hides the conversation from the caller's list.
// The next message in it brings it back.
func (h *ConversationHandler) DeleteConversationForMe(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	err = h.conversations.HideConversation(c.Request.Context(), conversationID, c.GetString(middleware.UserIDKey))
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to delete conversation"
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
			msg = "conversation not found"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.Status(http.StatusNoContent)
}

func encodeCursor(cursor models.MessageCursor) string {
	raw := strconv.FormatInt(cursor.CreatedAt.UnixNano(), 10) + "|" + cursor.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(value string) (models.MessageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return models.MessageCursor{}, errInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return models.MessageCursor{}, errInvalidCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return models.MessageCursor{}, errInvalidCursor
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return models.MessageCursor{}, errInvalidCursor
	}
	return models.MessageCursor{CreatedAt: time.Unix(0, ts).UTC(), ID: parsedID}, nil
}
