package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type createRoomRequest struct {
	// Participants is either a JSON array of usernames or a comma separated string.
	Participants json.RawMessage `json:"participants"`
}

func parseParticipants(raw json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var csv string
	if err := json.Unmarshal(raw, &csv); err == nil {
		return strings.Split(csv, ",")
	}
	return nil
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Rooms.ListRooms(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorJSON(c, http.StatusBadRequest, "error.peer_required")
		return
	}

	room, err := h.Rooms.CreateRoom(c.Request.Context(), currentUser(c), parseParticipants(req.Participants))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// GetRoom returns the room and marks the caller's unread messages read.
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.Rooms.EnterRoom(c.Request.Context(), c.Param("room_id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) LeaveRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	userID := currentUser(c)

	deleted, err := h.Rooms.LeaveRoom(c.Request.Context(), roomID, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"room_id":      roomID,
		"user_id":      userID,
		"room_deleted": deleted,
	}).Info(h.Texts.T("room.left"))
	c.Status(http.StatusNoContent)
}

type createMessageRequest struct {
	Content string `json:"content"`
	Image   string `json:"image"`
}

func (h *Handler) ListMessages(c *gin.Context) {
	messages, err := h.Rooms.ListMessages(c.Request.Context(), c.Param("room_id"), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// CreateMessage sends a message over HTTP. Live connections of the room receive it too.
func (h *Handler) CreateMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorJSON(c, http.StatusBadRequest, "error.empty_message")
		return
	}

	msg, err := h.Rooms.CreateMessage(c.Request.Context(), c.Param("room_id"), currentUser(c), req.Content, req.Image)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// SearchMessages answers with the matching messages, or with a message object
// when nothing matched.
func (h *Handler) SearchMessages(c *gin.Context) {
	found, err := h.Rooms.SearchMessages(c.Request.Context(), c.Param("room_id"), currentUser(c), c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if len(found) == 0 {
		c.JSON(http.StatusOK, gin.H{"message": h.Texts.T("search.empty")})
		return
	}
	c.JSON(http.StatusOK, found)
}
