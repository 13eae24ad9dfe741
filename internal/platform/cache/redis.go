// Package cache wraps the Redis client used by the redis counter backend.
package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"divgate/internal/platform/config"
)

type Client struct {
	rdb *goredis.Client
}

func Options(cfg config.RedisConfig) *goredis.Options {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	return &goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     poolSize,
		MinIdleConns: 2,
	}
}

// New connects and pings. The admission path fails closed if Redis is
// unreachable, so a bad address is reported at startup.
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(Options(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("address", cfg.Address).Int("db", cfg.DB).Msg("connected to Redis")
	return &Client{rdb: rdb}, nil
}

// Client returns the underlying go-redis client.
func (c *Client) Client() *goredis.Client {
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close Redis connection")
		return err
	}
	log.Info().Msg("Redis connection closed")
	return nil
}
