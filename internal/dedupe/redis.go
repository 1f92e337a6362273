package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "intake:msg:"

// Redis is a Deduper shared by every daemon pointing at the same server.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// OpenRedis connects to redisURL ("redis://host:6379/0") and checks the
// connection.
func OpenRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("dedupe: parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dedupe: ping redis: %w", err)
	}
	return NewRedis(client, ttl), nil
}

func (r *Redis) Seen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	fresh, err := r.client.SetNX(ctx, keyPrefix+id, 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe: setnx: %w", err)
	}
	return !fresh, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
