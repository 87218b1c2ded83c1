// Package cache connects to the Dragonfly/Redis instance that backs the
// shared cache tier.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-courses/internal/platform/config"
)

const pingTimeout = 2 * time.Second

// Client wraps a Redis/Dragonfly client and the key prefix of this service.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to cfg.URL. Keys written through Remote carry cfg.KeyPrefix.
func New(ctx context.Context, cfg config.CacheConfig) (*Client, error) {
	opts, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}

	slog.Info("cache connected", "addr", opts.Addr, "db", opts.DB, "prefix", cfg.KeyPrefix)
	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// Redis returns the underlying client.
func (c *Client) Redis() *redis.Client { return c.rdb }

// Remote returns the shared cache tier under this client's prefix.
func (c *Client) Remote() *RemoteStore {
	return NewRemoteStore(c.rdb, c.prefix)
}

// Close shuts down the cache client.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck pings the server, giving up after two seconds.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping cache: %w", err)
	}
	return nil
}
