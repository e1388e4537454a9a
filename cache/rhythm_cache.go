package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Bt1QMix/db"
	"Bt1QMix/logger"
	"Bt1QMix/model"

	"github.com/redis/go-redis/v9"
)

// rhythmKey is versioned so analysis algorithm changes can invalidate old
// entries by bumping the prefix.
const rhythmKey = "rhythm:v1:%s"

// RhythmCache stores completed analyses keyed by the SHA-256 of the raw
// audio bytes, so re-importing or renaming a file never re-analyzes it.
type RhythmCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRhythmCache wraps the shared Redis client. A nil client (Redis
// disabled) yields a cache whose lookups always miss.
func NewRhythmCache(ttl time.Duration) *RhythmCache {
	return &RhythmCache{client: db.RedisClient, ttl: ttl}
}

// Get returns the cached analysis or nil on miss. Redis failures are logged
// and treated as misses so analysis can always proceed.
func (c *RhythmCache) Get(ctx context.Context, contentHash string) *model.RhythmData {
	if c.client == nil || contentHash == "" {
		return nil
	}
	key := fmt.Sprintf(rhythmKey, contentHash)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("rhythm cache read failed",
				logger.String("key", key),
				logger.ErrorField(err))
		}
		return nil
	}
	var rd model.RhythmData
	if err := json.Unmarshal(data, &rd); err != nil {
		logger.Warn("rhythm cache entry corrupt",
			logger.String("key", key),
			logger.ErrorField(err))
		return nil
	}
	logger.Debug("rhythm cache hit", logger.String("hash", contentHash))
	return &rd
}

// Put stores a completed analysis with the configured TTL.
func (c *RhythmCache) Put(ctx context.Context, contentHash string, rd *model.RhythmData) error {
	if c.client == nil || contentHash == "" || rd == nil {
		return nil
	}
	data, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("failed to marshal rhythm data: %w", err)
	}
	key := fmt.Sprintf(rhythmKey, contentHash)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache rhythm data: %w", err)
	}
	logger.Debug("rhythm cache stored",
		logger.String("hash", contentHash),
		logger.Int("bytes", len(data)))
	return nil
}

// Delete drops a cached analysis.
func (c *RhythmCache) Delete(ctx context.Context, contentHash string) error {
	if c.client == nil || contentHash == "" {
		return nil
	}
	return c.client.Del(ctx, fmt.Sprintf(rhythmKey, contentHash)).Err()
}
