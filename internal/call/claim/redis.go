package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the redis client used for shared claims.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces claim keys.
	KeyPrefix string
	// TTL is how long a claim is remembered.
	TTL time.Duration

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.KeyPrefix == "" {
		out.KeyPrefix = "pushcall:claim:"
	}
	if out.TTL <= 0 {
		out.TTL = 10 * time.Minute
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// RedisStore is a Store shared by every agent process on a host, so an
// action handled by one process and a prompt shown by another still agree.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a store without checking connectivity.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return &RedisStore{client: rdb, prefix: cfg.KeyPrefix, ttl: cfg.TTL}
}

// OpenRedisStore creates a store and validates connectivity via PING.
func OpenRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	s := NewRedisStore(cfg)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.withDefaults().PingTimeout)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Claim implements Store with SET NX PX, which is atomic on the server.
func (s *RedisStore) Claim(ctx context.Context, callID string, value []byte) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+callID, value, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming call %s: %w", callID, err)
	}
	return ok, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, callID string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+callID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading claim for call %s: %w", callID, err)
	}
	return val, true, nil
}

// Close releases the redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
