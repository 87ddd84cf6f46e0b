package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/relay"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

// MessageHandler serves per-room message history and the HTTP send/delete
// surface. Sends and global deletes go through the relay core so live
// subscribers see them.
type MessageHandler struct {
	rooms    repositories.RoomRepository
	messages repositories.MessageRepository
	svc      *relay.Service
	audit    *telemetry.AuditEmitter
	log      *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(rooms repositories.RoomRepository, messages repositories.MessageRepository, svc *relay.Service, audit *telemetry.AuditEmitter, log *zap.Logger) *MessageHandler {
	return &MessageHandler{rooms: rooms, messages: messages, svc: svc, audit: audit, log: log}
}

// GetRoomMessages returns the room history filtered for the caller.
func (h *MessageHandler) GetRoomMessages(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	member, err := h.rooms.IsParticipant(c.Request.Context(), roomID, caller.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}

	msgs, err := h.messages.ListForViewer(c.Request.Context(), roomID, caller.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a message through the relay pipeline: append, unhide,
// notify, broadcast.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.Send(c.Request.Context(), roomID, caller, req.Content)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": "failed to send message"})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// DeleteMessageForMe tombstones a message for the caller only.
func (h *MessageHandler) DeleteMessageForMe(c *gin.Context) {
	roomID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteMessageForMe(c.Request.Context(), roomID, messageID, caller); err != nil {
		c.JSON(statusForError(err), gin.H{"error": "could not delete message"})
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteMessageForAll removes a message for everyone and notifies live
// subscribers. Sender or privileged callers only.
func (h *MessageHandler) DeleteMessageForAll(c *gin.Context) {
	roomID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteMessageForAll(c.Request.Context(), roomID, messageID, caller); err != nil {
		c.JSON(statusForError(err), gin.H{"error": "could not delete message"})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO",
		fmt.Sprintf("message %d deleted for all in room %d", messageID, roomID),
		requestIDFromContext(c), auditUserID(caller))
	c.Status(http.StatusNoContent)
}
