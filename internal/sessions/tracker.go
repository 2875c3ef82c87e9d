// Package sessions counts active playback sessions per client so the API can
// refuse to mint URLs beyond a client's concurrency limit. Backends also
// enforce max sessions through their token policy; this counter gives the
// controller its own live view and a hard stop at issuance time.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker records URL issuances against a client's session budget.
type Tracker interface {
	// Acquire consumes one session slot for the client when fewer than limit
	// are active. It returns false without consuming when the budget is
	// exhausted. Each granted slot expires after ttl.
	Acquire(ctx context.Context, clientID string, limit int, ttl time.Duration) (bool, error)

	// Active reports the number of currently counted sessions for the client.
	Active(ctx context.Context, clientID string) (int64, error)

	Close() error
}

// Unlimited is a Tracker that never refuses. It serves deployments without a
// Redis endpoint configured.
type Unlimited struct{}

func (Unlimited) Acquire(ctx context.Context, clientID string, limit int, ttl time.Duration) (bool, error) {
	return true, nil
}

func (Unlimited) Active(ctx context.Context, clientID string) (int64, error) {
	return 0, nil
}

func (Unlimited) Close() error {
	return nil
}

// Redis tracks session counts in Redis keyed per client, expiring each
// client's counter after its token TTL so abandoned sessions age out on
// their own.
type Redis struct {
	client *redis.Client
	prefix string
}

// Options configures the Redis tracker connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis connects to Redis and verifies the connection before returning.
func NewRedis(ctx context.Context, opts Options) (*Redis, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "streamgate:sessions"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(clientID string) string {
	return r.prefix + ":" + clientID
}

// Acquire increments the client's counter and rolls back when the result
// exceeds limit. The counter's expiry is refreshed on every grant so the
// window tracks the most recent issuance.
func (r *Redis) Acquire(ctx context.Context, clientID string, limit int, ttl time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := r.key(clientID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr session count: %w", err)
	}
	if count > int64(limit) {
		if err := r.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("rollback session count: %w", err)
		}
		return false, nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("expire session count: %w", err)
	}
	return true, nil
}

// Active reads the client's current counter; a missing key counts as zero.
func (r *Redis) Active(ctx context.Context, clientID string) (int64, error) {
	count, err := r.client.Get(ctx, r.key(clientID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("read session count: %w", err)
	}
	return count, nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
