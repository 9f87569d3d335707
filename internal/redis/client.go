// Package redis backs the notification snapshot cache, selection
// idempotency and refresh rate limiting with Redis.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// defaultNamespace prefixes every key this package writes.
const defaultNamespace = "rxsync"

// Config holds Redis connection settings.
type Config struct {
	Host      string
	Port      int
	Password  string
	DB        int
	Namespace string
}

// Client wraps the go-redis client with logging and key namespacing.
type Client struct {
	rdb       *redis.Client
	logger    *zap.Logger
	namespace string
}

// New creates a Redis client and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  4 * time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
	)

	return newClient(rdb, cfg.Namespace, logger), nil
}

func newClient(rdb *redis.Client, namespace string, logger *zap.Logger) *Client {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Client{rdb: rdb, logger: logger, namespace: namespace}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// key joins parts under the client's namespace.
func (c *Client) key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}
