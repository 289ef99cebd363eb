package redis

import (
	"context"
	"fmt"
	"github.com/redis/go-redis/v9"
)

// NewClient connects to the server described by a redis:// or rediss://
// URI, e.g. redis://:password@localhost:6379/0. The returned client
// multiplexes all repository calls over a shared connection pool.
func NewClient(ctx context.Context, uri string) (*redis.Client, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse redis URI: %w", err)
	}

	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}
