package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis only backs caches and the token denylist, so slow calls should fail
// fast and let callers fall through to the catalog.
const (
	redisDialTimeout = 3 * time.Second
	redisIOTimeout   = 500 * time.Millisecond
)

// ConnectRedis parses url, applies cache-friendly timeouts and verifies the
// server answers a ping.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url must not be empty")
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	options.DialTimeout = redisDialTimeout
	options.ReadTimeout = redisIOTimeout
	options.WriteTimeout = redisIOTimeout

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, redisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return client, nil
}
