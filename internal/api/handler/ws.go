package handler

import (
	"chatalarm/backend/internal/chathub"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are checked by the CORS middleware and the token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeChat upgrades to the live channel of a room. Rejected users get a plain
// HTTP error and no websocket.
func (h *Handler) ServeChat(c *gin.Context) {
	userID := currentUser(c)
	roomID := c.Param("room_id")

	if _, err := h.Hub.Authorize(c.Request.Context(), userID, roomID); err != nil {
		logrus.WithFields(logrus.Fields{
			"room_id": roomID,
			"user_id": userID,
		}).WithError(err).Warn("Live channel rejected")
		h.respondError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logrus.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, userID, roomID)
	if err := h.Hub.JoinRoom(c.Request.Context(), client); err != nil {
		logrus.WithError(err).Error("Failed to join room")
		conn.Close()
		return
	}
	client.Run()
}

// ServeAlarms upgrades to the current user's live notification channel.
func (h *Handler) ServeAlarms(c *gin.Context) {
	userID := currentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, userID, "")
	h.Hub.JoinAlarms(client)
	client.Run()
}
