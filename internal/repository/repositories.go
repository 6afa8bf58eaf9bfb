package repository

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"social_client/internal/config"
	"social_client/pkg/logger"
)

type Repositories struct {
	Persistence PersistenceAPI
	Enrichment  EnrichmentAPI
	Push        PushChannel
	Profiles    ProfileCache
	Journal     JournalRepository
}

// NewRepositories собирает внешние зависимости движка.
// db и rdb опциональны: без них журнал отключен, а кэш профилей живет в памяти.
func NewRepositories(cfg *config.Config, db *pgxpool.Pool, rdb *redis.Client, backoff func(attempt int) time.Duration, log logger.Logger) *Repositories {
	repos := &Repositories{
		Persistence: NewPersistenceAPI(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.RequestTimeout, log),
		Enrichment:  NewEnrichmentAPI(cfg.Backend.EnrichmentURL, cfg.Backend.Token, cfg.Backend.RequestTimeout, log),
		Push:        NewPushChannel(cfg.Backend.PushURL, cfg.Backend.Token, backoff, log),
		Journal:     NewJournalRepository(db, log),
	}

	if rdb != nil {
		repos.Profiles = NewRedisProfileCache(rdb, cfg.Redis.ProfileTTL, log)
		log.Info("Profile cache initialized", "backend", "redis")
	} else {
		repos.Profiles = NewMemoryProfileCache()
		log.Info("Profile cache initialized", "backend", "memory")
	}

	if db == nil {
		log.Warn("Database is not configured, sync journal disabled")
	}

	return repos
}
