package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/Orik-dev/kcalbot/internal/pkg/env"
)

// Connect builds the Redis client used for the staging cache, distributed
// locks and the day-summary read cache. The handle is injected into consumers
// rather than held as package state.
func Connect(ctx context.Context) (*redis.Client, error) {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	log.Infof("[Cache] Connected: %s", pong)

	return client, nil
}

// DaySummaryKey is the read-cache key for a user's daily totals.
func DaySummaryKey(userID uint, date string) string {
	return fmt.Sprintf("summary:%d:%s", userID, date)
}

// InvalidateDaySummary drops the cached totals for a (user, date). Called
// after every committed meal mutation; a miss is not an error.
func InvalidateDaySummary(ctx context.Context, client *redis.Client, userID uint, date string) {
	if err := client.Del(ctx, DaySummaryKey(userID, date)).Err(); err != nil {
		log.Warnf("[Cache] Failed to invalidate %s: %v", DaySummaryKey(userID, date), err)
	}
}

// Set stores a value with the given expiration time.
func Set(ctx context.Context, client *redis.Client, key string, value interface{}, expiration time.Duration) error {
	return client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a string value by key.
func Get(ctx context.Context, client *redis.Client, key string) (string, error) {
	return client.Get(ctx, key).Result()
}
