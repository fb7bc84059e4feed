package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*Redis)(nil)

// Redis shares processed keys between instances.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

type RedisOption func(*Redis)

// WithPrefix namespaces every key. The default is "pointledger:dedupe:".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL sets how long a key is remembered.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "pointledger:dedupe:",
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Seen(ctx context.Context, key string) (bool, error) {
	err := r.client.Get(ctx, r.prefix+key).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("dedupe/redis: get %s: %w", key, err)
	}
}

func (r *Redis) Mark(ctx context.Context, key string) error {
	if err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe/redis: setnx %s: %w", key, err)
	}
	return nil
}
