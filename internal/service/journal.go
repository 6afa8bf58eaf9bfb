package service

import (
	"context"
	"time"

	"social_client/internal/domain"
	"social_client/internal/repository"
	"social_client/pkg/logger"
)

const journalWriteTimeout = 5 * time.Second

type JournalService interface {
	Record(ctx context.Context, kind, conversationID, messageRef, detail string, payload map[string]interface{}) error
	// Note пишет запись в фоне, не задерживая обработку события
	Note(kind, conversationID, messageRef, detail string)
	Recent(ctx context.Context, limit int) ([]*domain.JournalEntry, error)
}

type journalService struct {
	journalRepo repository.JournalRepository
	sched       Scheduler
	log         logger.Logger
}

func NewJournalService(journalRepo repository.JournalRepository, sched Scheduler, log logger.Logger) JournalService {
	return &journalService{
		journalRepo: journalRepo,
		sched:       sched,
		log:         log,
	}
}

func (s *journalService) Record(ctx context.Context, kind, conversationID, messageRef, detail string, payload map[string]interface{}) error {
	if payload == nil {
		payload = make(map[string]interface{})
	}

	entry := &domain.JournalEntry{
		EventTime:      s.sched.Now(),
		Kind:           kind,
		ConversationID: conversationID,
		MessageRef:     messageRef,
		Detail:         detail,
		Payload:        payload,
	}

	return s.journalRepo.Record(ctx, entry)
}

func (s *journalService) Note(kind, conversationID, messageRef, detail string) {
	s.sched.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		defer cancel()
		if err := s.Record(ctx, kind, conversationID, messageRef, detail, nil); err != nil {
			s.log.Debug("Failed to write journal entry", "error", err, "kind", kind)
		}
	})
}

func (s *journalService) Recent(ctx context.Context, limit int) ([]*domain.JournalEntry, error) {
	return s.journalRepo.Recent(ctx, limit)
}
