package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"aiva/internal/logger"
)

// Deduper is a Redis fast path in front of the message uniqueness index.
// It never decides correctness on its own: callers still check the store
// when a key is held, and when Redis is unavailable processing continues.
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *logger.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

func dedupKey(connectionID, providerMessageID string) string {
	return fmt.Sprintf("dedup:ingest:%s:%s", connectionID, providerMessageID)
}

// AcquireOnce returns true the first time a provider message is seen for a
// connection within the TTL. False only means another ingest took the key.
func (d *Deduper) AcquireOnce(ctx context.Context, connectionID, providerMessageID string) bool {
	key := dedupKey(connectionID, providerMessageID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing:", key, err)
		return true
	}
	if !ok {
		d.logger.Debug("Skipped duplicated message:", key)
	}
	return ok
}

// Release forgets a key so that a failed insert can be retried next sync.
// Pass a context that is not already cancelled, or the DEL never runs.
func (d *Deduper) Release(ctx context.Context, connectionID, providerMessageID string) {
	key := dedupKey(connectionID, providerMessageID)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key:", key, err)
	}
}
