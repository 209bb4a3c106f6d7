package cache

import (
	"context"
	"encoding/json"
	"time"

	"greenmarket/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cartKeyPrefix = "cart:"

// CartCache mirrors the authoritative cart read in redis, keyed by user id.
// It is a read-through cache only: entries are written exclusively from
// authoritative refetches and invalidated after every mutating call, never
// patched with local arithmetic. Cache failures degrade to a database read
// and are logged, not surfaced.
type CartCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCartCache creates a cart snapshot cache backed by the given redis client
func NewCartCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *CartCache {
	return &CartCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func cartKey(userID uuid.UUID) string {
	return cartKeyPrefix + userID.String()
}

// Get returns the cached line set for the user, and whether it was present
func (c *CartCache) Get(ctx context.Context, userID uuid.UUID) ([]domain.CartLine, bool) {
	data, err := c.client.Get(ctx, cartKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Cart cache read failed",
				zap.Error(err),
				zap.String("user_id", userID.String()),
			)
		}
		return nil, false
	}

	var lines []domain.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		c.logger.Warn("Cart cache entry corrupt, dropping",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		c.Invalidate(ctx, userID)
		return nil, false
	}

	return lines, true
}

// Set stores the line set from an authoritative refetch
func (c *CartCache) Set(ctx context.Context, userID uuid.UUID, lines []domain.CartLine) {
	data, err := json.Marshal(lines)
	if err != nil {
		c.logger.Warn("Cart cache marshal failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		return
	}

	if err := c.client.Set(ctx, cartKey(userID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Cart cache write failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
	}
}

// Invalidate drops the user's cached cart
func (c *CartCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, cartKey(userID)).Err(); err != nil {
		c.logger.Warn("Cart cache invalidation failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
	}
}
