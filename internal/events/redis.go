package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection and target stream.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string

	// MaxLen caps the stream length (approximate trimming). Zero keeps
	// every entry.
	MaxLen int64
}

// Redis appends events to a Redis stream with XADD.
type Redis struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{client: rdb, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

func (r *Redis) Publish(ctx context.Context, e Event) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: e.Values(),
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to stream %s: %w", r.stream, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
