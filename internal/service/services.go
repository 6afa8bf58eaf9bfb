package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"social_client/internal/config"
	"social_client/internal/normalizer"
	"social_client/internal/repository"
	"social_client/pkg/logger"
)

type Services struct {
	Inbox    InboxService
	Sender   SendPipeline
	Router   EventRouter
	Enricher Enricher
	Journal  JournalService
	Metrics  *Metrics
}

// NewServices собирает движок синхронизации для пользователя me
func NewServices(repos *repository.Repositories, cfg *config.Config, me string, sched Scheduler, reg prometheus.Registerer, log logger.Logger) *Services {
	norm := normalizer.New()
	metrics := NewMetrics(reg)
	tracker := NewStatusTracker()
	journal := NewJournalService(repos.Journal, sched, log.With("component", "journal"))

	inbox := newInboxService(repos.Persistence, repos.Push, norm, tracker, sched, metrics, journal,
		cfg.Sync, me, log.With("component", "inbox"))
	sender := newSendPipeline(inbox, repos.Persistence, norm, sched, NewRetryPolicy(cfg.Sync), metrics, journal,
		cfg.Sync, me, log.With("component", "send"))
	router := newEventRouter(inbox, norm, sched, metrics, journal, cfg.Sync, me, log.With("component", "router"))
	enricher := NewEnricher(repos.Enrichment, repos.Profiles, norm, sched, inbox.applyProfiles, log.With("component", "enricher"))

	inbox.SetProfileResolver(enricher.Enqueue)
	repos.Push.OnConnect(router.OnConnect)

	log.Info("Sync engine initialized", "user_id", me)

	return &Services{
		Inbox:    inbox,
		Sender:   sender,
		Router:   router,
		Enricher: enricher,
		Journal:  journal,
		Metrics:  metrics,
	}
}
