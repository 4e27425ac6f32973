// Package cache keeps the current productivity row per user in Redis
// for the dashboard to read without hitting the repository. Writes are
// best-effort; the repository row stays authoritative.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/projectpulse/pulse/internal/domain"
)

// ErrCacheMiss is returned when no cached row exists for the user.
var ErrCacheMiss = errors.New("productivity cache miss")

const keyPrefix = "pulse:productivity:"

// ProductivityCache is a write-through cache of UserProductivityMetrics.
type ProductivityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProductivityCache creates a cache with the given TTL.
func NewProductivityCache(client *redis.Client, ttl time.Duration) *ProductivityCache {
	return &ProductivityCache{client: client, ttl: ttl}
}

// SetCurrent stores the current metrics row for the user.
func (c *ProductivityCache) SetCurrent(ctx context.Context, m *domain.UserProductivityMetrics) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal productivity metrics: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+m.UserID.String(), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache productivity metrics for user %s: %w", m.UserID, err)
	}
	return nil
}

// GetCurrent returns the cached row for the user, or ErrCacheMiss.
func (c *ProductivityCache) GetCurrent(ctx context.Context, userID uuid.UUID) (*domain.UserProductivityMetrics, error) {
	payload, err := c.client.Get(ctx, keyPrefix+userID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("read productivity cache for user %s: %w", userID, err)
	}

	var m domain.UserProductivityMetrics
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode productivity cache for user %s: %w", userID, err)
	}
	return &m, nil
}
