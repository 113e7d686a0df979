package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-service/internal/messaging"
	"messaging-service/internal/middleware"
)

// EventHandler lets event organizers broadcast to subscribed connections.
type EventHandler struct {
	hub *messaging.Hub
}

func NewEventHandler(hub *messaging.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// PostAnnouncement pushes text to everyone subscribed to the event.
func (h *EventHandler) PostAnnouncement(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("event_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	announcement, err := h.hub.PublishEventAnnouncement(c.Request.Context(), eventID, c.GetString(middleware.UserIDKey), req.Text)
	if err != nil {
		if errors.Is(err, messaging.ErrInvalidContent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid announcement text"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to publish announcement"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"event_id":       announcement.EventID,
		"author_user_id": announcement.AuthorUserID,
		"text":           announcement.Text,
		"created_at":     announcement.CreatedAt,
	})
}
