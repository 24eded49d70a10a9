// Package redis connects the gateway to the optional Redis instance that backs
// the report idempotency cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"medgate/internal/platform/config"
)

const defaultConnectTimeout = 5 * time.Second

// Client is the shared go-redis client.
type Client struct {
	*redis.Client
}

// New connects to cfg.URL. An empty URL disables Redis and returns a nil
// client. The first ping is bounded by cfg.DialTimeout.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	connectTimeout := cfg.DialTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}

	return &Client{Client: client}, nil
}

// Health pings Redis. Failures carry the pool state so the health report shows
// whether the pool was exhausted or the server is gone.
func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		st := c.PoolStats()
		return fmt.Errorf("redis ping (%d/%d conns idle, %d timeouts): %w", st.IdleConns, st.TotalConns, st.Timeouts, err)
	}
	return nil
}
