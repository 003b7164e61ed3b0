package database

import (
	"context"
	"fmt"
	"log/slog"

	"earnhub/internal/config"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns nil without error when no redis host is configured;
// the caches then fall through to the store.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisHost == "" {
		slog.Warn("redis not configured, caches disabled")
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("connected to redis", "addr", rdb.Options().Addr)
	return rdb, nil
}
