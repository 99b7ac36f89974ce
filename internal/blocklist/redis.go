package blocklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second
)

// setClient is the subset of *redis.Client the block list needs.
type setClient interface {
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Redis checks membership in a Redis set of blocked user IDs.
type Redis struct {
	client setClient
	key    string
}

// NewRedis parses redisURL, connects and verifies the server with a ping.
func NewRedis(ctx context.Context, redisURL, key string, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("blocklist: invalid redis url: %w", err)
	}
	options.PoolSize = 10
	options.MinIdleConns = 2
	options.MaxIdleConns = 5
	options.DialTimeout = dialTimeout
	options.ReadTimeout = readTimeout
	options.WriteTimeout = writeTimeout

	b, err := NewRedisWithClient(redis.NewClient(options), key)
	if err != nil {
		return nil, err
	}
	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	logger.Info("redis block list connected", zap.String("addr", options.Addr), zap.String("key", key))
	return b, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client setClient, key string) (*Redis, error) {
	if client == nil {
		return nil, errors.New("blocklist: redis client is required")
	}
	if key == "" {
		return nil, errors.New("blocklist: redis key is required")
	}
	return &Redis{client: client, key: key}, nil
}

// IsBlocked implements crawler.BlockList.
func (r *Redis) IsBlocked(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	blocked, err := r.client.SIsMember(ctx, r.key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("blocklist: sismember %s: %w", r.key, err)
	}
	return blocked, nil
}

// Ping verifies the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("blocklist: redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *Redis) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("blocklist: close redis: %w", err)
	}
	return nil
}
