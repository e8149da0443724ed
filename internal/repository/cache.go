package repository

import (
	"context"
	"fmt"
	"time"

	"notifyrelay/internal/entity"
	"notifyrelay/pkg/cache"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/redis"
)

const (
	_cacheTTL       = 5 * time.Minute
	_cacheKeyPrefix = "notify"
)

// CacheRepository is the status read-cache fronting NotifyRepository
// (spec.md §4.C1's "status reads may be served from cache" note). Keys
// are tenant-scoped so one tenant can never observe another's cached
// rows even via key guessing.
type CacheRepository struct {
	rdb *redis.Client
}

func NewCacheRepository(rdb *redis.Client) *CacheRepository {
	return &CacheRepository{rdb: rdb}
}

func (s *CacheRepository) GetCacheKey(tenantID, id uuid.UUID) string {
	return cache.GenerateCacheKey(_cacheKeyPrefix, fmt.Sprintf("%s:%s", tenantID, id))
}

func (s *CacheRepository) GetFromCache(ctx context.Context, key string) (*entity.Notification, error) {
	const op = "repository.cache.GetFromCache"

	cached, err := s.rdb.Get(ctx, key)
	if err != nil || cached == "" {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var notification entity.Notification
	if unmarshErr := cache.Deserialize([]byte(cached), &notification); unmarshErr != nil {
		return nil, fmt.Errorf("%s: %w", op, unmarshErr)
	}

	return &notification, nil
}

func (s *CacheRepository) SaveToCache(ctx context.Context, key string, notification *entity.Notification) error {
	const op = "repository.cache.SaveToCache"

	data, err := cache.Serialize(notification)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if setErr := s.rdb.SetWithExpiration(ctx, key, data, _cacheTTL); setErr != nil {
		return fmt.Errorf("%s: %w", op, setErr)
	}
	return nil
}

func (s *CacheRepository) InvalidateCache(ctx context.Context, tenantID, id uuid.UUID) error {
	const op = "repository.cache.InvalidateCache"

	if err := s.rdb.Del(ctx, s.GetCacheKey(tenantID, id)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AcquireDedupLock implements the content-dedup guard described in
// SPEC_FULL.md's DOMAIN STACK section: RabbitMQ has no native
// per-message dedup, so C6 workers claim a notification id via
// Redis SETNX before processing it. The lock auto-expires so a crashed
// worker doesn't permanently block redelivery.
func (s *CacheRepository) AcquireDedupLock(ctx context.Context, notificationID uuid.UUID, ttl time.Duration) (bool, error) {
	const op = "repository.cache.AcquireDedupLock"

	key := cache.GenerateCacheKey("dedup", notificationID.String())
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// Ping is a lightweight connectivity check for the health endpoint.
func (s *CacheRepository) Ping(ctx context.Context) error {
	if err := s.rdb.Del(ctx, cache.GenerateCacheKey("ping", "healthcheck")); err != nil {
		return fmt.Errorf("repository.cache.Ping: %w", err)
	}
	return nil
}

func (s *CacheRepository) ReleaseDedupLock(ctx context.Context, notificationID uuid.UUID) error {
	const op = "repository.cache.ReleaseDedupLock"

	key := cache.GenerateCacheKey("dedup", notificationID.String())
	if err := s.rdb.Del(ctx, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
