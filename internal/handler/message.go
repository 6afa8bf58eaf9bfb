package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"social_client/internal/domain"
	"social_client/internal/service"
	"social_client/pkg/logger"
)

type MessageHandler struct {
	sender service.SendPipeline
	log    logger.Logger
}

func NewMessageHandler(sender service.SendPipeline, log logger.Logger) *MessageHandler {
	return &MessageHandler{
		sender: sender,
		log:    log,
	}
}

type SendMessageRequest struct {
	RecipientID    string        `json:"recipient_id"`
	ConversationID string        `json:"conversation_id"`
	Text           string        `json:"text"`
	Media          *domain.Media `json:"media"`
}

// Send возвращает черновик со статусом sending; дальнейшие статусы приходят в /ws/view
func (h *MessageHandler) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.sender.Send(c.Request.Context(), &service.SendRequest{
		RecipientID:    req.RecipientID,
		ConversationID: req.ConversationID,
		Text:           req.Text,
		Media:          req.Media,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, message)
}

func (h *MessageHandler) Retry(c *gin.Context) {
	message, err := h.sender.Retry(c.Request.Context(), c.Param("clientId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, message)
}
