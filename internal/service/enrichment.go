package service

import (
	"context"
	"errors"
	"sync"

	"social_client/internal/domain"
	"social_client/internal/normalizer"
	"social_client/internal/repository"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

// Enricher разрешает участников, известных только по id, в профили.
// Кэш профилей общий для всех бесед и живет до выхода из сессии.
type Enricher interface {
	Enrich(ctx context.Context, userIDs []string) ([]*domain.UserProfile, error)
	// Enqueue - фоновое разрешение, повторные запросы одного id схлопываются
	Enqueue(userIDs []string)
	Reset(ctx context.Context) error
}

type enricher struct {
	api   repository.EnrichmentAPI
	cache repository.ProfileCache
	norm  *normalizer.Normalizer
	sched Scheduler
	sink  func([]*domain.UserProfile)
	log   logger.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewEnricher(api repository.EnrichmentAPI, cache repository.ProfileCache, norm *normalizer.Normalizer,
	sched Scheduler, sink func([]*domain.UserProfile), log logger.Logger) Enricher {
	return &enricher{
		api:      api,
		cache:    cache,
		norm:     norm,
		sched:    sched,
		sink:     sink,
		log:      log,
		inFlight: make(map[string]bool),
	}
}

func (e *enricher) Enrich(ctx context.Context, userIDs []string) ([]*domain.UserProfile, error) {
	profiles := make([]*domain.UserProfile, 0, len(userIDs))
	var firstErr error
	for _, id := range userIDs {
		profile, err := e.resolve(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		profiles = append(profiles, profile)
	}
	if e.sink != nil && len(profiles) > 0 {
		e.sink(profiles)
	}
	return profiles, firstErr
}

func (e *enricher) resolve(ctx context.Context, userID string) (*domain.UserProfile, error) {
	profile, err := e.cache.Get(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		// кэш недоступен - идем в API напрямую
		e.log.Warn("Profile cache read failed", "error", err, "user_id", userID)
	}

	raw, err := e.api.FetchUser(ctx, userID)
	if err != nil {
		e.log.Warn("Failed to fetch user profile", "error", err, "user_id", userID)
		return nil, err
	}
	profile, err = e.norm.User(raw)
	if err != nil {
		e.log.Warn("Malformed user profile", "error", err, "user_id", userID)
		return nil, err
	}
	profile.ID = userID

	if err := e.cache.Set(ctx, profile); err != nil {
		e.log.Warn("Profile cache write failed", "error", err, "user_id", userID)
	}
	return profile, nil
}

func (e *enricher) Enqueue(userIDs []string) {
	e.mu.Lock()
	var batch []string
	for _, id := range userIDs {
		if id == "" || e.inFlight[id] {
			continue
		}
		e.inFlight[id] = true
		batch = append(batch, id)
	}
	e.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	e.sched.Go(func() {
		defer func() {
			e.mu.Lock()
			for _, id := range batch {
				delete(e.inFlight, id)
			}
			e.mu.Unlock()
		}()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundCallTimeout)
		defer cancel()
		if _, err := e.Enrich(ctx, batch); err != nil {
			e.log.Debug("Some profiles were not resolved", "error", err)
		}
	})
}

func (e *enricher) Reset(ctx context.Context) error {
	return e.cache.Clear(ctx)
}
