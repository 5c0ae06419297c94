package redis_repository

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Conn opens a client for cfg and verifies it with PING.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: cfg.Timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})
	logrus.WithFields(logrus.Fields{"component": "redis", "addr": cfg.Addr(), "db": cfg.DB}).Info("connecting to redis")

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	return client, nil
}
