package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisCooldown is how long Get and Set skip Redis after a failure.
const DefaultRedisCooldown = 5 * time.Second

// Redis is a Cache backed by a shared Redis instance. Keys are namespaced
// with prefix. After a failed call, Get and Set return ErrUnavailable
// without touching the network until the cooldown passes; Del and Ping
// always try and clear the down state when they succeed.
type Redis struct {
	client    *redis.Client
	prefix    string
	cooldown  time.Duration
	now       func() time.Time
	downUntil atomic.Int64
}

// RedisOption configures Redis.
type RedisOption func(*Redis)

// WithCooldown overrides DefaultRedisCooldown. Zero disables the short circuit.
func WithCooldown(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d >= 0 {
			r.cooldown = d
		}
	}
}

// WithRedisClock overrides the time source used for the cooldown.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: prefix, cooldown: DefaultRedisCooldown, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis parses a redis:// URL and verifies connectivity.
func DialRedis(ctx context.Context, url, prefix string, opts ...RedisOption) (*Redis, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, prefix, opts...), nil
}

// Available reports whether calls currently reach Redis.
func (r *Redis) Available() bool {
	return r.now().UnixNano() >= r.downUntil.Load()
}

func (r *Redis) observe(err error) error {
	switch {
	case err == nil:
		r.downUntil.Store(0)
	case errors.Is(err, context.Canceled):
	default:
		if r.cooldown > 0 {
			r.downUntil.Store(r.now().Add(r.cooldown).UnixNano())
		}
	}
	return err
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !r.Available() {
		return nil, false, ErrUnavailable
	}
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.observe(nil)
		return nil, false, nil
	}
	if err := r.observe(err); err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !r.Available() {
		return ErrUnavailable
	}
	return r.observe(r.client.Set(ctx, r.prefix+key, value, ttl).Err())
}

// Del is attempted even while cooling down: a dropped invalidation would
// outlive the outage.
func (r *Redis) Del(ctx context.Context, key string) error {
	return r.observe(r.client.Del(ctx, r.prefix+key).Err())
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.observe(r.client.Ping(ctx).Err())
}

func (r *Redis) Name() string { return "redis" }

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
