package db

import (
	"context"
	"fmt"
	"time"

	"Bt1QMix/config"
	"Bt1QMix/logger"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the shared client, nil when Redis is disabled.
var RedisClient *redis.Client

// ConnectRedis initializes the client and verifies the connection.
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis",
		logger.String("host", cfg.RedisHost),
		logger.Int("db", cfg.RedisDB))
	return nil
}

// CloseRedis closes the client.
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}
