package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"sarkari-pulse/config"
	"sarkari-pulse/logger"

	"github.com/redis/go-redis/v9"
)

// redisPublisher is the part of *redis.Client the publisher uses
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisPublisher sends each event as JSON with PUBLISH on a channel
type RedisPublisher struct {
	rdb     redisPublisher
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection with a PING
func NewRedisPublisher(cfg config.RedisConfig) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newRedisPublisher(rdb, cfg.Channel), nil
}

func newRedisPublisher(rdb redisPublisher, channel string) *RedisPublisher {
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		logger:  logger.WithComponent("redis-events").With("channel", channel),
	}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	receivers, err := p.rdb.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}
	p.logger.Debug("event published", "type", e.Type, "receivers", receivers)
	return nil
}

// Close implements Publisher
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
