package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// BlockHandler manages the caller's block list.
type BlockHandler struct {
	blocks repositories.BlockRepository
	audit  *telemetry.AuditEmitter
}

// NewBlockHandler builds a BlockHandler. audit may be nil.
func NewBlockHandler(blocks repositories.BlockRepository, audit *telemetry.AuditEmitter) *BlockHandler {
	return &BlockHandler{blocks: blocks, audit: audit}
}

// ListBlocked returns the users the caller has blocked.
func (h *BlockHandler) ListBlocked(c *gin.Context) {
	blocks, err := h.blocks.ListBlocked(c.Request.Context(), c.GetString(middleware.UserIDKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load blocks"})
		return
	}
	if blocks == nil {
		blocks = []models.UserBlock{}
	}
	c.JSON(http.StatusOK, gin.H{"blocks": blocks})
}

// Block stops all direct messaging between the caller and the target.
// Repeating the call is harmless.
func (h *BlockHandler) Block(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	target := strings.TrimSpace(c.Param("user_id"))
	if target == "" || target == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	created, err := h.blocks.Block(c.Request.Context(), userID, target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to block user"})
		return
	}
	if created {
		h.audit.Emit(c.Request.Context(), "INFO", "user blocked "+target, requestIDFromContext(c), userIDFromContext(c))
	}

	c.JSON(http.StatusOK, gin.H{"blocked_user_id": target, "created": created})
}

// Unblock lifts the caller's block on the target, if any.
func (h *BlockHandler) Unblock(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	target := strings.TrimSpace(c.Param("user_id"))
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	removed, err := h.blocks.Unblock(c.Request.Context(), userID, target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unblock user"})
		return
	}
	if removed {
		h.audit.Emit(c.Request.Context(), "INFO", "user unblocked "+target, requestIDFromContext(c), userIDFromContext(c))
	}

	c.Status(http.StatusNoContent)
}
