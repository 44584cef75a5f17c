// Package lock provides a Redis backed dispatch.LockManager so several
// coordinator instances can share one restaurant.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/tablebot/core/dispatch"
	"github.com/kilianp07/tablebot/core/factory"
	"github.com/kilianp07/tablebot/core/model"
	"github.com/kilianp07/tablebot/infra/logger"
)

const (
	defaultTTL    = 10 * time.Second
	defaultRetry  = 25 * time.Millisecond
	defaultPrefix = "tablebot:lock:"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config describes the Redis lock backend.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
	// TTLMS bounds how long a crashed holder blocks a key.
	TTLMS   int `json:"ttl_ms"`
	RetryMS int `json:"retry_ms"`
	// WaitMS bounds how long one key is polled before Acquire fails with
	// model.ErrLocked. Defaults to dispatch.DefaultLockWait.
	WaitMS int `json:"wait_ms"`
}

// RedisLocks grants record locks with SET NX PX. Each acquisition writes a
// random token that release compares before deleting.
type RedisLocks struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
	log    logger.Logger
}

// NewRedisLocks connects to Redis and checks the connection.
func NewRedisLocks(ctx context.Context, cfg Config) (*RedisLocks, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis locks: addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis locks: ping %s: %w", cfg.Addr, err)
	}
	return NewRedisLocksWithClient(client, cfg), nil
}

// NewRedisLocksWithClient wraps an existing client.
func NewRedisLocksWithClient(client redis.UniversalClient, cfg Config) *RedisLocks {
	l := &RedisLocks{
		client: client,
		prefix: cfg.Prefix,
		ttl:    time.Duration(cfg.TTLMS) * time.Millisecond,
		retry:  time.Duration(cfg.RetryMS) * time.Millisecond,
		wait:   time.Duration(cfg.WaitMS) * time.Millisecond,
		log:    logger.New("lock-redis"),
	}
	if l.prefix == "" {
		l.prefix = defaultPrefix
	}
	if l.ttl <= 0 {
		l.ttl = defaultTTL
	}
	if l.retry <= 0 {
		l.retry = defaultRetry
	}
	if l.wait <= 0 {
		l.wait = dispatch.DefaultLockWait
	}
	return l
}

type heldKey struct {
	name  string
	token string
}

// Acquire takes every key in dispatch.SortKeys order, polling until the key
// is free, the wait elapses or ctx is done.
func (l *RedisLocks) Acquire(ctx context.Context, keys ...dispatch.LockKey) (func(), error) {
	sorted := dispatch.SortKeys(keys)
	held := make([]heldKey, 0, len(sorted))
	release := func() {
		// Release with a fresh context so a canceled request still frees its keys.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := releaseScript.Run(rctx, l.client, []string{held[i].name}, held[i].token).Err(); err != nil {
				l.log.Warnf("release %s: %v", held[i].name, err)
			}
		}
	}
	for _, k := range sorted {
		h := heldKey{name: l.prefix + k.String(), token: uuid.NewString()}
		if err := l.lock(ctx, h); err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		held = append(held, h)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *RedisLocks) lock(ctx context.Context, h heldKey) error {
	t := time.NewTicker(l.retry)
	defer t.Stop()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, h.name, h.token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return model.ErrLocked
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close closes the Redis client.
func (l *RedisLocks) Close() error { return l.client.Close() }

var _ dispatch.LockManager = (*RedisLocks)(nil)

func init() {
	_ = dispatch.RegisterLockManager("redis", func(conf map[string]any) (dispatch.LockManager, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return NewRedisLocks(ctx, c)
	})
}
