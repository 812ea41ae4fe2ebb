package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/idempotency"
	"github.com/redis/go-redis/v9"
)

// ClaimStore implements idempotency.Store with SET NX. Keys expire after the
// retention window, so no cleanup job is needed.
type ClaimStore struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
}

func NewClaimStore(client redis.Cmdable, retention time.Duration) *ClaimStore {
	if retention <= 0 {
		retention = idempotency.DefaultRetention
	}
	return &ClaimStore{client: client, prefix: "idem:", retention: retention}
}

func (s *ClaimStore) TryClaim(ctx context.Context, key, summary string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, summary, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim so the intent can be retried, used when the side
// effect it guarded failed.
func (s *ClaimStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
