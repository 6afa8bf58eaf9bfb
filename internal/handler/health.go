package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"social_client/internal/repository"
)

type HealthHandler struct {
	push   repository.PushChannel
	userID string
}

func NewHealthHandler(push repository.PushChannel, userID string) *HealthHandler {
	return &HealthHandler{
		push:   push,
		userID: userID,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"service":        "dm-sync",
		"user_id":        h.userID,
		"push_connected": h.push.Connected(),
	})
}
