// Package handler contains the gin handlers of the HTTP and websocket API.
package handler

import (
	"chatalarm/backend/internal/chat"
	"chatalarm/backend/internal/chathub"
	"chatalarm/backend/internal/localization"
	"chatalarm/backend/internal/middleware"
	"chatalarm/backend/internal/notify"
	"chatalarm/backend/internal/storage"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler holds the services behind the API.
type Handler struct {
	Hub        *chathub.Hub
	Rooms      *chat.RoomService
	Store      storage.Storage
	Dispatcher notify.Dispatcher
	Texts      *localization.Localizer

	JWTSecret string
	JWTTTL    time.Duration
}

func NewHandler(hub *chathub.Hub, rooms *chat.RoomService, store storage.Storage, dispatcher notify.Dispatcher, texts *localization.Localizer) *Handler {
	return &Handler{
		Hub:        hub,
		Rooms:      rooms,
		Store:      store,
		Dispatcher: dispatcher,
		Texts:      texts,
	}
}

// WithTokens enables token issuing with the given secret and lifetime.
func (h *Handler) WithTokens(secret string, ttl time.Duration) *Handler {
	h.JWTSecret = secret
	h.JWTTTL = ttl
	return h
}

// Register mounts every route on r. Dev-only routes are skipped when devRoutes is false.
func (h *Handler) Register(r *gin.Engine, auth gin.HandlerFunc, devRoutes bool) {
	r.GET("/ping", h.Ping)

	api := r.Group("/api")
	if devRoutes {
		api.POST("/auth/token", h.IssueToken)
	}

	secured := api.Group("", auth)
	{
		rooms := secured.Group("/chat/rooms")
		rooms.GET("", h.ListRooms)
		rooms.POST("", h.CreateRoom)
		rooms.GET("/:room_id", h.GetRoom)
		rooms.DELETE("/:room_id/leave", h.LeaveRoom)
		rooms.GET("/:room_id/messages", h.ListMessages)
		rooms.POST("/:room_id/messages", h.CreateMessage)
		rooms.GET("/:room_id/messages/search", h.SearchMessages)

		alarms := secured.Group("/alarms")
		alarms.GET("", h.ListAlarms)
		alarms.DELETE("", h.DeleteAllAlarms)
		alarms.DELETE("/:alarm_id", h.DeleteAlarm)

		events := secured.Group("/events")
		events.POST("/follow", h.ReportFollow)
		events.POST("/comment", h.ReportComment)
		events.POST("/like", h.ReportLike)
	}

	ws := r.Group("/ws", auth)
	ws.GET("/chat/:room_id", h.ServeChat)
	ws.GET("/alarm", h.ServeAlarms)
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// currentUser returns the authenticated user; the auth middleware guarantees one.
func currentUser(c *gin.Context) string {
	userID, _ := middleware.CurrentUser(c)
	return userID
}

func (h *Handler) errorJSON(c *gin.Context, code int, key string) {
	c.AbortWithStatusJSON(code, gin.H{"error": h.Texts.T(key)})
}

// respondError maps service errors to HTTP responses.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrRoomNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, storage.ErrNotFound):
		h.errorJSON(c, http.StatusNotFound, "error.not_found")
	case errors.Is(err, chat.ErrNotMember):
		h.errorJSON(c, http.StatusForbidden, "error.forbidden")
	case errors.Is(err, chathub.ErrUnauthenticated):
		h.errorJSON(c, http.StatusUnauthorized, "error.unauthorized")
	case errors.Is(err, chat.ErrPeerRequired):
		h.errorJSON(c, http.StatusBadRequest, "error.peer_required")
	case errors.Is(err, chat.ErrOneToOneOnly):
		h.errorJSON(c, http.StatusBadRequest, "error.one_to_one")
	case errors.Is(err, chat.ErrRoomExists):
		h.errorJSON(c, http.StatusBadRequest, "error.room_exists")
	case errors.Is(err, chat.ErrEmptyMessage):
		h.errorJSON(c, http.StatusBadRequest, "error.empty_message")
	case errors.Is(err, chat.ErrMessageTooLong):
		h.errorJSON(c, http.StatusBadRequest, "error.message_too_long")
	case errors.Is(err, chat.ErrImageRefTooLong):
		h.errorJSON(c, http.StatusBadRequest, "error.image_ref_too_long")
	case errors.Is(err, chat.ErrMessageNotInRoom):
		h.errorJSON(c, http.StatusBadRequest, "error.message_not_in_room")
	case errors.Is(err, chat.ErrQueryRequired):
		h.errorJSON(c, http.StatusBadRequest, "error.query_required")
	case errors.Is(err, notify.ErrUnknownCategory), errors.Is(err, notify.ErrMissingParty):
		h.errorJSON(c, http.StatusBadRequest, "error.bad_request")
	default:
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).WithError(err).Error("Request failed")
		h.errorJSON(c, http.StatusInternalServerError, "error.internal")
	}
}
