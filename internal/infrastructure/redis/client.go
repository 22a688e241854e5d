package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// Options tune the client beyond what the URL carries.
type Options struct {
	URL      string
	PoolSize int
	// ClientName shows up in CLIENT LIST, which helps tell the API apart
	// from the job runner.
	ClientName string
}

// NewClient connects to Redis and verifies the connection. An empty URL is a
// configuration error; callers that treat Redis as optional check first.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}

	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if opts.PoolSize > 0 {
		parsed.PoolSize = opts.PoolSize
	}
	if opts.ClientName != "" {
		parsed.ClientName = opts.ClientName
	}

	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
