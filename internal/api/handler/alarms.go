package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) ListAlarms(c *gin.Context) {
	alarms, err := h.Store.ListNotifications(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alarms)
}

// DeleteAlarm removes one of the caller's notifications. Other users' ids are 404.
func (h *Handler) DeleteAlarm(c *gin.Context) {
	if err := h.Store.DeleteNotification(c.Request.Context(), c.Param("alarm_id"), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) DeleteAllAlarms(c *gin.Context) {
	n, err := h.Store.DeleteAllNotifications(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": h.Texts.T("alarm.bulk_deleted", n),
		"deleted": n,
	})
}
