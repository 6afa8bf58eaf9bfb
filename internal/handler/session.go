package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"social_client/internal/service"
	"social_client/pkg/logger"
)

type SessionHandler struct {
	enricher service.Enricher
	log      logger.Logger
}

func NewSessionHandler(enricher service.Enricher, log logger.Logger) *SessionHandler {
	return &SessionHandler{enricher: enricher, log: log}
}

// Logout - кэш профилей живет до выхода пользователя
func (h *SessionHandler) Logout(c *gin.Context) {
	if err := h.enricher.Reset(c.Request.Context()); err != nil {
		h.log.Error("Failed to clear profile cache", "error", err)
		_ = c.Error(err)
		return
	}
	h.log.Info("Session closed, profile cache cleared")
	c.Status(http.StatusNoContent)
}
