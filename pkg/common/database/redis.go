package database

import (
	"context"
	"fmt"
	"time"

	"github.com/prescritto-ai/platform/pkg/common/config"
	"github.com/prescritto-ai/platform/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// OpenRedis returns a connected client, or nil when Redis is unreachable so callers can run uncached.
func OpenRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).Warn("Redis unavailable, embedding cache disabled")
		_ = client.Close()
		return nil
	}

	logger.Log.Info("Connected to Redis")
	return client
}

func CloseRedis(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
