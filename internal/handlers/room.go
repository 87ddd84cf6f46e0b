package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/presence"
	"chat-relay/internal/relay"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

// RoomHandler serves the room control surface: dashboard listing, open,
// hide, favorites.
type RoomHandler struct {
	rooms    repositories.RoomRepository
	svc      *relay.Service
	presence presence.Tracker
	audit    *telemetry.AuditEmitter
	log      *zap.Logger
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms repositories.RoomRepository, svc *relay.Service, tracker presence.Tracker, audit *telemetry.AuditEmitter, log *zap.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, svc: svc, presence: tracker, audit: audit, log: log}
}

// ListRooms returns the rooms visible to the caller, with a best-effort
// online flag for the other participant.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	rooms, err := h.rooms.ListRooms(c.Request.Context(), caller.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}

	for i := range rooms {
		online, err := h.presence.Online(c.Request.Context(), rooms[i].FriendID)
		if err != nil {
			h.log.Debug("presence lookup failed", zap.Int("user_id", rooms[i].FriendID), zap.Error(err))
			continue
		}
		rooms[i].Online = online
	}

	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// ListFavorites returns the caller's favorited, visible rooms.
func (h *RoomHandler) ListFavorites(c *gin.Context) {
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	rooms, err := h.rooms.ListFavorites(c.Request.Context(), caller.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load favorites"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// OpenRoom creates or reopens the direct room with a friend. Only the
// caller's hidden marker is cleared.
func (h *RoomHandler) OpenRoom(c *gin.Context) {
	var req struct {
		FriendID       int    `json:"friend_id" binding:"required"`
		FriendUsername string `json:"friend_username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller, ok := callerFromContext(c)
	if !ok {
		return
	}
	if caller.UserID == req.FriendID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	room, err := h.svc.OpenRoom(c.Request.Context(), caller, req.FriendID, req.FriendUsername)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open room"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"room_id": room.ID, "name": room.Name})
}

// ToggleFavorite flips the caller's favorite flag on a room.
func (h *RoomHandler) ToggleFavorite(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	room, err := h.rooms.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": "room not found"})
		return
	}
	if !room.HasParticipant(caller.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return
	}

	favorite, err := h.rooms.ToggleFavorite(c.Request.Context(), roomID, caller.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not toggle favorite"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorite": favorite})
}

// DeleteRoomForMe hides the room and its current messages for the caller
// only.
func (h *RoomHandler) DeleteRoomForMe(c *gin.Context) {
	roomID, ok := parseRoomID(c)
	if !ok {
		return
	}
	caller, ok := callerFromContext(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteRoomForMe(c.Request.Context(), roomID, caller); err != nil {
		c.JSON(statusForError(err), gin.H{"error": "could not hide room"})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO",
		fmt.Sprintf("room %d hidden for user %d", roomID, caller.UserID),
		requestIDFromContext(c), auditUserID(caller))
	c.Status(http.StatusNoContent)
}
