package store

import (
	"context"
	goerrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/drmweyers/FitnessMealPlanner-sub016/internal/errors"
)

// RedisConfig holds connection settings for the Redis client.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

// DefaultRedisConfig returns sensible defaults for local development.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     10,
	}
}

// RedisClient implements Client on top of go-redis.
type RedisClient struct {
	cfg    RedisConfig
	logger *zap.Logger

	mu  sync.Mutex
	rdb *redis.Client
}

var _ Client = (*RedisClient)(nil)

// NewRedisClient builds an unconnected Redis client. Call Connect before use.
func NewRedisClient(cfg RedisConfig, logger *zap.Logger) *RedisClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisClient{cfg: cfg, logger: logger.Named("redis")}
}

// Connect dials the store and verifies it with a ping. Calling Connect on an
// already-connected client is a no-op, and the client can be reconnected
// after Close.
func (c *RedisClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		// Stale handle from before a store restart; rebuild it.
		_ = c.rdb.Close()
		c.rdb = nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.cfg.Addr,
		Password:     c.cfg.Password,
		DB:           c.cfg.DB,
		DialTimeout:  c.cfg.DialTimeout,
		ReadTimeout:  c.cfg.ReadTimeout,
		WriteTimeout: c.cfg.WriteTimeout,
		PoolSize:     c.cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return apperrors.NewConnectivity("connect", err)
	}

	c.rdb = rdb
	c.logger.Info("connected to redis", zap.String("addr", c.cfg.Addr), zap.Int("db", c.cfg.DB))
	return nil
}

// Close releases the connection pool. The client may be reconnected later.
func (c *RedisClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	return err
}

func (c *RedisClient) client() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil, apperrors.NewConnectivity("client", fmt.Errorf("not connected"))
	}
	return c.rdb, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return apperrors.NewConnectivity("ping", err)
	}
	return nil
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	rdb, err := c.client()
	if err != nil {
		return nil, err
	}
	val, err := rdb.Get(ctx, key).Bytes()
	if goerrors.Is(err, redis.Nil) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.NewConnectivity("get", err)
	}
	return val, nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	if err := rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.NewConnectivity("set", err)
	}
	return nil
}

func (c *RedisClient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	rdb, err := c.client()
	if err != nil {
		return false, err
	}
	ok, err := rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, apperrors.NewConnectivity("setnx", err)
	}
	return ok, nil
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	rdb, err := c.client()
	if err != nil {
		return 0, err
	}
	n, err := rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, apperrors.NewConnectivity("del", err)
	}
	return n, nil
}

func (c *RedisClient) Incr(ctx context.Context, key string) (int64, error) {
	rdb, err := c.client()
	if err != nil {
		return 0, err
	}
	n, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperrors.NewConnectivity("incr", err)
	}
	return n, nil
}

func (c *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	if err := rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return apperrors.NewConnectivity("expire", err)
	}
	return nil
}

func (c *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	rdb, err := c.client()
	if err != nil {
		return 0, err
	}
	d, err := rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, apperrors.NewConnectivity("ttl", err)
	}
	return d, nil
}

// ScanPattern walks the keyspace with SCAN so large databases are not blocked
// the way KEYS would.
func (c *RedisClient) ScanPattern(ctx context.Context, pattern string) ([]string, error) {
	rdb, err := c.client()
	if err != nil {
		return nil, err
	}
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, apperrors.NewConnectivity("scan", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (c *RedisClient) SAdd(ctx context.Context, key string, members ...string) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return apperrors.NewConnectivity("sadd", err)
	}
	return nil
}

func (c *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	rdb, err := c.client()
	if err != nil {
		return nil, err
	}
	members, err := rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, apperrors.NewConnectivity("smembers", err)
	}
	return members, nil
}

func (c *RedisClient) SRem(ctx context.Context, key string, members ...string) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := rdb.SRem(ctx, key, args...).Err(); err != nil {
		return apperrors.NewConnectivity("srem", err)
	}
	return nil
}

func (c *RedisClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	if err := rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return apperrors.NewConnectivity("zadd", err)
	}
	return nil
}

func (c *RedisClient) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	lo := strconv.FormatFloat(min, 'f', -1, 64)
	hi := strconv.FormatFloat(max, 'f', -1, 64)
	if err := rdb.ZRemRangeByScore(ctx, key, lo, hi).Err(); err != nil {
		return apperrors.NewConnectivity("zremrangebyscore", err)
	}
	return nil
}

func (c *RedisClient) ZCard(ctx context.Context, key string) (int64, error) {
	rdb, err := c.client()
	if err != nil {
		return 0, err
	}
	n, err := rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, apperrors.NewConnectivity("zcard", err)
	}
	return n, nil
}

func (c *RedisClient) FlushAll(ctx context.Context) error {
	rdb, err := c.client()
	if err != nil {
		return err
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		return apperrors.NewConnectivity("flushall", err)
	}
	return nil
}
