package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"relowatch/models"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultRetryDelay = 250 * time.Millisecond
	DefaultMaxRetries = 20
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type RedisConfig struct {
	Prefix     string        // key prefix (default "relowatch:scrape:")
	TTL        time.Duration // lock TTL, must outlast a scrape (default 5m)
	RetryDelay time.Duration // delay between attempts (default 250ms)
	MaxRetries int           // attempts before giving up (default 20)
}

// RedisLocker is a Locker shared by every process pointing at the same
// Redis. A lock that cannot be taken within the retry budget yields
// models.ErrScrapeInProgress.
type RedisLocker struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedisLocker(client *redis.Client, cfg RedisConfig) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "relowatch:scrape:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &RedisLocker{client: client, cfg: cfg}
}

// NewRedisLockerFromURL parses a redis:// URL and pings the server.
func NewRedisLockerFromURL(ctx context.Context, rawURL string, cfg RedisConfig) (*RedisLocker, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisLocker(client, cfg), nil
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.cfg.Prefix + key
	token := uuid.New().String()

	for i := range l.cfg.MaxRetries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		if i < l.cfg.MaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.cfg.RetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", models.ErrScrapeInProgress, key)
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	return func() {
		// Release must run even if the scrape context was cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		res, err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Warn("Failed to release lock", "key", redisKey, "error", err)
			return
		}
		if res == 0 {
			log.Warn("Lock expired before release", "key", redisKey)
		}
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
