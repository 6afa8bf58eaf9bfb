package handler

import (
	"social_client/internal/repository"
	"social_client/internal/service"
	"social_client/pkg/logger"
)

type Handlers struct {
	Health       *HealthHandler
	Conversation *ConversationHandler
	Message      *MessageHandler
	Journal      *JournalHandler
	Session      *SessionHandler
	WebSocket    *WebSocketHandler
}

func NewHandlers(services *service.Services, repos *repository.Repositories, userID string, log logger.Logger) *Handlers {
	return &Handlers{
		Health:       NewHealthHandler(repos.Push, userID),
		Conversation: NewConversationHandler(services.Inbox, services.Sender, log),
		Message:      NewMessageHandler(services.Sender, log),
		Journal:      NewJournalHandler(services.Journal, log),
		Session:      NewSessionHandler(services.Enricher, log),
		WebSocket:    NewWebSocketHandler(services.Inbox, log),
	}
}
