package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options addresses the Redis instance shared by prefs, delete tokens and
// the job queue.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Client builds the go-redis options.
func (o Options) Client() *redis.Options {
	return &redis.Options{
		Addr:       o.Addr,
		Password:   o.Password,
		DB:         o.DB,
		ClientName: "closeflow",
	}
}

// New creates a Redis client and verifies connectivity within five seconds.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(opts.Client())

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
