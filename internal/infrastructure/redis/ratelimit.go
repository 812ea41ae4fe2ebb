package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript increments the bucket and sets its expiry on first hit.
var fixedWindowScript = redis.NewScript(`
	local n = redis.call("incr", KEYS[1])
	if n == 1 then
		redis.call("pexpire", KEYS[1], ARGV[1])
	end
	return n
`)

// FixedWindowLimiter counts hits per key in fixed windows aligned to the epoch.
type FixedWindowLimiter struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewFixedWindowLimiter(client redis.Cmdable) *FixedWindowLimiter {
	return &FixedWindowLimiter{client: client, now: time.Now}
}

// Allow records one hit for key and reports whether it is within limit.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, fmt.Errorf("rate limit window must be positive")
	}
	bucket := l.now().UnixMilli() / window.Milliseconds()
	k := "ratelimit:" + key + ":" + strconv.FormatInt(bucket, 10)

	n, err := fixedWindowScript.Run(ctx, l.client, []string{k}, window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return n <= limit, nil
}
