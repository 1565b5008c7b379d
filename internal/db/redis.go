package db

import (
	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-pathsync/internal/config"
)

// ConnectRedis returns a client, or nil when REDIS_ADDR is empty.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}
