// Package redis backs the Budget Gate's spend cache and the Cron
// Scheduler's distributed per-campaign single-flight lock.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BudgetCache caches a campaign's rolling spend total with a short TTL
// so repeated budget checks within the same window don't each hit
// Postgres.
type BudgetCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBudgetCache initializes a new Redis client for budget caching and
// the scheduler's single-flight lock.
func NewBudgetCache(addr string, ttl time.Duration) (*BudgetCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &BudgetCache{client: client, ttl: ttl}, nil
}

func (c *BudgetCache) Close() error {
	return c.client.Close()
}

func budgetKey(campaignID uuid.UUID, period string) string {
	return fmt.Sprintf("budget:spend:%s:%s", campaignID, period)
}

// Get returns the cached spend for a campaign/period, and whether it
// was present.
func (c *BudgetCache) Get(ctx context.Context, campaignID uuid.UUID, period string) (float64, bool, error) {
	val, err := c.client.Get(ctx, budgetKey(campaignID, period)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("budget cache get failed: %w", err)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("budget cache value corrupt: %w", err)
	}
	return f, true, nil
}

// Set stores the spend total with the cache's configured TTL.
func (c *BudgetCache) Set(ctx context.Context, campaignID uuid.UUID, period string, spend float64) error {
	err := c.client.Set(ctx, budgetKey(campaignID, period), spend, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("budget cache set failed: %w", err)
	}
	return nil
}

// Invalidate drops the cached spend for a campaign/period, so the next
// Get reports a miss.
func (c *BudgetCache) Invalidate(ctx context.Context, campaignID uuid.UUID, period string) error {
	return c.client.Del(ctx, budgetKey(campaignID, period)).Err()
}

// TryLock acquires the per-campaign distributed single-flight lock
// backing the scheduler's "one run in flight at a time" invariant
// across multiple orchestrator processes. It returns false, nil if
// another process already holds the lock.
func (c *BudgetCache) TryLock(ctx context.Context, campaignID uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockKey(campaignID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock acquire failed: %w", err)
	}
	return ok, nil
}

// Unlock releases the single-flight lock. It's a best-effort release:
// if the lock already expired, this is a no-op.
func (c *BudgetCache) Unlock(ctx context.Context, campaignID uuid.UUID) error {
	return c.client.Del(ctx, lockKey(campaignID)).Err()
}

func lockKey(campaignID uuid.UUID) string {
	return fmt.Sprintf("campaign:lock:%s", campaignID)
}
