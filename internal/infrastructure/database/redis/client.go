package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

var (
	ErrClientClosed     = errors.New(errors.CodeCacheError, "redis client is closed")
	ErrConnectionFailed = errors.New(errors.CodeCacheError, "redis connection failed")
)

// Config holds connection settings. KeyPrefix namespaces every key written by
// the cache and the lock factory.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

func applyDefaults(cfg *Config) {
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "discovery:"
	}
}

// Client wraps a go-redis client and refuses commands once closed.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient connects and pings the server.
func NewClient(cfg Config, log logging.Logger) (*Client, error) {
	applyDefaults(&cfg)
	if log == nil {
		log = logging.NewNopLogger()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, ErrConnectionFailed.WithCause(err).WithDetail("addr=" + cfg.Addr)
	}

	log.Info("redis client connected", logging.String("addr", cfg.Addr), logging.Int("db", cfg.DB))
	return NewClientFrom(rdb, cfg.KeyPrefix, log), nil
}

// NewClientFrom wraps an existing go-redis client without pinging it.
func NewClientFrom(rdb redis.UniversalClient, prefix string, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{rdb: rdb, prefix: prefix, logger: log.Named("redis")}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.rdb.Close()
	if err != nil {
		c.logger.Error("failed to close redis client", logging.Err(err))
	}
	return err
}

// Key returns the namespaced form of key.
func (c *Client) Key(key string) string { return c.prefix + key }

// Redis returns the underlying client, or an error once closed.
func (c *Client) Redis() (redis.UniversalClient, error) {
	if c.isClosed() {
		return nil, ErrClientClosed
	}
	return c.rdb, nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
