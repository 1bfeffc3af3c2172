package handler

import (
	"chatalarm/backend/internal/models"
	"chatalarm/backend/internal/notify"
	"net/http"

	"github.com/gin-gonic/gin"
)

// The caller of an event endpoint is the actor: the follower, commenter or liker.

type followEvent struct {
	User string `json:"user" binding:"required"`
}

type postEvent struct {
	PostID    string `json:"post_id" binding:"required"`
	PostOwner string `json:"post_owner" binding:"required"`
}

func (h *Handler) ReportFollow(c *gin.Context) {
	var req followEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorJSON(c, http.StatusBadRequest, "error.bad_request")
		return
	}
	h.dispatchSocial(c, notify.SocialEvent{
		Category:    models.CategoryFollow,
		RecipientID: req.User,
		ActorID:     currentUser(c),
	})
}

func (h *Handler) ReportComment(c *gin.Context) {
	h.reportPostEvent(c, models.CategoryComment)
}

func (h *Handler) ReportLike(c *gin.Context) {
	h.reportPostEvent(c, models.CategoryLike)
}

func (h *Handler) reportPostEvent(c *gin.Context, category models.NotificationCategory) {
	var req postEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorJSON(c, http.StatusBadRequest, "error.bad_request")
		return
	}
	postID := req.PostID
	h.dispatchSocial(c, notify.SocialEvent{
		Category:    category,
		RecipientID: req.PostOwner,
		ActorID:     currentUser(c),
		ObjectID:    &postID,
	})
}

func (h *Handler) dispatchSocial(c *gin.Context, ev notify.SocialEvent) {
	if err := h.Dispatcher.DispatchSocial(c.Request.Context(), ev); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
