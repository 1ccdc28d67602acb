// Package cache provides the small key/value capability used by lookups
// that sit in front of Postgres. Implementations are chosen once at startup.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned without a round trip while a backend is
// cooling down after a failure.
var ErrUnavailable = errors.New("cache: backend unavailable")

// Cache stores opaque values with a time to live. Get reports a miss with
// ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Name() string
}

// Noop never stores anything. Every Get is a miss.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Del(context.Context, string) error                        { return nil }
func (Noop) Ping(context.Context) error                               { return nil }
func (Noop) Name() string                                             { return "noop" }
