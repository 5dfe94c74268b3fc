package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL        = 30 * time.Minute
	DefaultRetryDelay = 500 * time.Millisecond
	DefaultMaxRetries = 20
	keyPrefix         = "blog-monitor:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisConfig holds Redis lock settings
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TTL        time.Duration // must outlive the longest source check
	RetryDelay time.Duration
	MaxRetries int
}

// Redis is a Locker backed by SET NX with a per-holder token
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(client, cfg), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Redis{client: client, cfg: cfg}
}

// Lock retries SET NX until it succeeds, ctx is done or retries run out.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	key = keyPrefix + key
	token := uuid.NewString()

	for i := 0; i < r.cfg.MaxRetries; i++ {
		ok, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return r.unlocker(key, token), nil
		}
		if i == r.cfg.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
}

func (r *Redis) unlocker(key, token string) Unlock {
	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
