package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"social_client/internal/service"
	"social_client/pkg/logger"
)

type ConversationHandler struct {
	inbox  service.InboxService
	sender service.SendPipeline
	log    logger.Logger
}

func NewConversationHandler(inbox service.InboxService, sender service.SendPipeline, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		inbox:  inbox,
		sender: sender,
		log:    log,
	}
}

// List - упорядоченный список бесед без дублей
func (h *ConversationHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"conversations":          h.inbox.Conversations(),
		"active_conversation_id": h.inbox.ActiveID(),
	})
}

func (h *ConversationHandler) Refresh(c *gin.Context) {
	if err := h.inbox.Refresh(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": h.inbox.Conversations()})
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	messages, err := h.inbox.Messages(c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ConversationHandler) Open(c *gin.Context) {
	id := c.Param("id")
	if err := h.inbox.Open(c.Request.Context(), id); err != nil {
		_ = c.Error(err)
		return
	}
	messages, err := h.inbox.Messages(id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": h.inbox.ActiveID(),
		"messages":        messages,
	})
}

func (h *ConversationHandler) Close(c *gin.Context) {
	if err := h.inbox.Close(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) MarkRead(c *gin.Context) {
	if err := h.inbox.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.inbox.Delete(c.Request.Context(), c.Param("id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) LoadOlder(c *gin.Context) {
	id := c.Param("id")
	added, err := h.inbox.LoadOlder(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	messages, err := h.inbox.Messages(id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"added":    added,
		"messages": messages,
	})
}

type TypingRequest struct {
	Active bool `json:"active"`
}

func (h *ConversationHandler) Typing(c *gin.Context) {
	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sender.Typing(c.Request.Context(), c.Param("id"), req.Active); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
