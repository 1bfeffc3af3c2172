package handler

import (
	"chatalarm/backend/internal/middleware"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type tokenRequest struct {
	Username string `json:"username"`
}

// IssueToken returns a JWT for the requested username, or for a fresh anonymous
// id when none is given. Only mounted outside production.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.errorJSON(c, http.StatusBadRequest, "error.bad_request")
			return
		}
	}

	userID := strings.TrimSpace(req.Username)
	if userID == "" {
		userID = uuid.New().String()
	}

	token, err := middleware.IssueToken(h.JWTSecret, userID, h.JWTTTL)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": userID})
}
