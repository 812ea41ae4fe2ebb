package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/redis/go-redis/v9"
)

// ResponseCache stores replayable HTTP responses for the Idempotency middleware.
type ResponseCache struct {
	client redis.Cmdable
	prefix string
}

func NewResponseCache(client redis.Cmdable) *ResponseCache {
	return &ResponseCache{client: client, prefix: "resp:"}
}

func (c *ResponseCache) Get(ctx context.Context, key string) (*middleware.CachedResponse, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached response: %w", err)
	}
	var resp middleware.CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

func (c *ResponseCache) Set(ctx context.Context, key string, resp *middleware.CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set cached response: %w", err)
	}
	return nil
}
