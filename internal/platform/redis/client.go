// Package redis builds the shared Redis client used for the provider token
// cache.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"credsync/internal/platform/config"
)

// Client wraps go-redis with a health check.
type Client struct {
	*redis.Client
}

// New connects using the configured URL, verifying the connection with a
// ping. Returns (nil, nil) when no URL is configured so callers can fall back
// to in-memory alternatives.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health reports whether the connection still responds.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
