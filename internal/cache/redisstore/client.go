// Package redisstore is a redis-backed result cache, shared by every server
// replica pointed at the same instance.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/pcstream/internal/cache"
	"github.com/mohammed-shakir/pcstream/internal/core/observability"
)

type Option func(*Client)

func WithPoolSize(n int) Option {
	return func(c *Client) { c.opts.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(c *Client) { c.opts.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.opts.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.opts.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.opts.WriteTimeout = d }
}

// WithTTL sets the expiry of written values; 0 keeps them until purged.
func WithTTL(d time.Duration) Option {
	return func(c *Client) { c.ttl = d }
}

type Client struct {
	rdb  *redis.Client
	opts *redis.Options
	ttl  time.Duration
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	c := &Client{opts: &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}}
	for _, f := range opts {
		f(c)
	}

	c.rdb = redis.NewClient(c.opts)

	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = c.rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// Get returns (nil, false, nil) for a missing key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, c.ttl).Err()
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// Purge deletes every key matching the glob pattern, scanning in batches.
func (c *Client) Purge(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			observability.ObserveCacheOp("purge", err, time.Since(start).Seconds())
			return n, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		if err := c.Del(ctx, keys...); err != nil {
			return n, err
		}
		n += len(keys)
		if cursor = next; cursor == 0 {
			break
		}
	}
	observability.ObserveCacheOp("purge", nil, time.Since(start).Seconds())
	return n, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

var (
	_ cache.Interface = (*Client)(nil)
	_ cache.Purger    = (*Client)(nil)
)
