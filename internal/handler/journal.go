package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"social_client/internal/service"
	"social_client/pkg/logger"
)

type JournalHandler struct {
	journal service.JournalService
	log     logger.Logger
}

func NewJournalHandler(journal service.JournalService, log logger.Logger) *JournalHandler {
	return &JournalHandler{journal: journal, log: log}
}

func (h *JournalHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := h.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
