package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"social_client/internal/domain"
	apperrors "social_client/pkg/errors"
	"social_client/pkg/logger"
)

const (
	// Префикс ключей профилей в Redis
	ProfileKeyPrefix  = "dm:profile:%s"
	profileKeyPattern = "dm:profile:*"
)

// ProfileCache - общий кэш профилей (id -> профиль) для всех бесед.
// Запись идемпотентна, побеждает последний писатель; устаревание допустимо.
type ProfileCache interface {
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)
	Set(ctx context.Context, profile *domain.UserProfile) error
	// Clear вызывается при выходе из сессии
	Clear(ctx context.Context) error
}

type redisProfileCache struct {
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

func NewRedisProfileCache(rdb *redis.Client, ttl time.Duration, log logger.Logger) ProfileCache {
	return &redisProfileCache{rdb: rdb, ttl: ttl, log: log}
}

func (r *redisProfileCache) key(userID string) string {
	return fmt.Sprintf(ProfileKeyPrefix, userID)
}

func (r *redisProfileCache) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	data, err := r.rdb.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		r.log.Error("Failed to read profile from cache", "error", err, "user_id", userID)
		return nil, err
	}

	var profile domain.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		// битая запись - считаем промахом, ее перезапишут
		r.log.Warn("Failed to unmarshal cached profile", "error", err, "user_id", userID)
		return nil, apperrors.ErrNotFound
	}
	return &profile, nil
}

func (r *redisProfileCache) Set(ctx context.Context, profile *domain.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(profile.ID), data, r.ttl).Err(); err != nil {
		r.log.Error("Failed to write profile to cache", "error", err, "user_id", profile.ID)
		return err
	}
	return nil
}

func (r *redisProfileCache) Clear(ctx context.Context) error {
	iter := r.rdb.Scan(ctx, 0, profileKeyPattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.log.Error("Failed to scan profile keys", "error", err)
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

type memoryProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
}

// NewMemoryProfileCache - кэш в памяти процесса, если Redis не настроен
func NewMemoryProfileCache() ProfileCache {
	return &memoryProfileCache{profiles: make(map[string]domain.UserProfile)}
}

func (m *memoryProfileCache) Get(_ context.Context, userID string) (*domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &p, nil
}

func (m *memoryProfileCache) Set(_ context.Context, profile *domain.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.ID] = *profile
	return nil
}

func (m *memoryProfileCache) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = make(map[string]domain.UserProfile)
	return nil
}
