//go:build integration

package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	"github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_ClaimStore(t *testing.T) {
	store := NewClaimStore(setupRedis(t), time.Minute)
	ctx := context.Background()

	ok, err := store.TryClaim(ctx, "notify:order_confirmation:1", "sent")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryClaim(ctx, "notify:order_confirmation:1", "sent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Release(ctx, "notify:order_confirmation:1"))
	ok, err = store.TryClaim(ctx, "notify:order_confirmation:1", "sent")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIntegration_AccessCodeStore(t *testing.T) {
	store := NewAccessCodeStore(setupRedis(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	code := &accesscode.AccessCode{
		SubjectID: "member-1", CodeHash: "hash", Salt: "salt",
		ExpiresAt: now.Add(5 * time.Minute), MaxAttempts: 5, IssuedAt: now,
		Binding: accesscode.Binding{SessionID: "sess", FingerprintHash: "fp"},
	}
	require.NoError(t, store.Save(ctx, code, 5*time.Minute))

	got, err := store.Get(ctx, "member-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, code.CodeHash, got.CodeHash)
	assert.Equal(t, code.Binding, got.Binding)
	assert.True(t, code.ExpiresAt.Equal(got.ExpiresAt))

	r, err := store.ReserveAttempt(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, accesscode.Reserved, r)
	got, err = store.Get(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, store.Delete(ctx, "member-1"))
	r, err = store.ReserveAttempt(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, accesscode.ReservationGone, r)

	got, err = store.Get(ctx, "member-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIntegration_AccessCodeAttemptBudgetIsAtomic(t *testing.T) {
	store := NewAccessCodeStore(setupRedis(t))
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, &accesscode.AccessCode{
		SubjectID: "member-2", CodeHash: "hash", Salt: "salt",
		ExpiresAt: now.Add(5 * time.Minute), MaxAttempts: 5, IssuedAt: now,
		Binding: accesscode.Binding{SessionID: "sess", FingerprintHash: "fp"},
	}, 5*time.Minute))

	var reserved atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := store.ReserveAttempt(ctx, "member-2")
			assert.NoError(t, err)
			if r == accesscode.Reserved {
				reserved.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), reserved.Load())
	got, err := store.Get(ctx, "member-2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIntegration_AccessCodeConsumeOnce(t *testing.T) {
	store := NewAccessCodeStore(setupRedis(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Save(ctx, &accesscode.AccessCode{
		SubjectID: "member-2", CodeHash: "hash-a", Salt: "salt",
		ExpiresAt: now.Add(time.Minute), MaxAttempts: 5, IssuedAt: now,
	}, time.Minute))

	ok, err := store.Consume(ctx, "member-2", "hash-b")
	require.NoError(t, err)
	assert.False(t, ok, "different hash must not consume")

	ok, err = store.Consume(ctx, "member-2", "hash-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "member-2", "hash-a")
	require.NoError(t, err)
	assert.False(t, ok, "second consume must fail")
}

func TestIntegration_FixedWindowLimiter(t *testing.T) {
	limiter := NewFixedWindowLimiter(setupRedis(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := limiter.Allow(ctx, "otp:member-1", 5, time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "otp:member-1", 5, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntegration_LockerRunsOnce(t *testing.T) {
	client := setupRedis(t)
	locker := NewLocker(client, time.Minute)
	ctx := context.Background()

	held := NewDistributedLock(client, "sweep", time.Minute)
	acquired, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	ran, err := locker.Run(ctx, "sweep", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, held.Release(ctx))
	ran, err = locker.Run(ctx, "sweep", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestIntegration_LockerExtendsLongJobs(t *testing.T) {
	client := setupRedis(t)
	locker := NewLocker(client, 200*time.Millisecond)
	ctx := context.Background()

	ran, err := locker.Run(ctx, "reconcile", func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		ttl, err := client.PTTL(ctx, "lock:reconcile").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	exists, err := client.Exists(ctx, "lock:reconcile").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestIntegration_StreamRoundTrip(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	consumer := NewStreamConsumer(client, NotificationStream, "dispatchers", "c1", 10, 100*time.Millisecond)
	require.NoError(t, consumer.CreateGroup(ctx))

	entry := outbox.NewEntry(outbox.AggregateOrder, uuid.New(), outbox.EventOrderConfirmation,
		map[string]any{"email": "fan@example.com"})
	require.NoError(t, NewStreamProducer(client).Publish(ctx, entry))

	msgs, err := consumer.Read(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	msg, err := DecodeMessage(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, entry.ID.String(), msg.EntryID)
	assert.Equal(t, "fan@example.com", msg.Payload["email"])
	require.NoError(t, consumer.Ack(ctx, msg.ID))
}

func TestIntegration_ResponseCache(t *testing.T) {
	cache := NewResponseCache(setupRedis(t))
	ctx := context.Background()

	got, err := cache.Get(ctx, "http:user-1:POST:/api/v1/orders:k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	resp := &middleware.CachedResponse{Status: 201, Body: `{"id":"1"}`}
	require.NoError(t, cache.Set(ctx, "http:user-1:POST:/api/v1/orders:k1", resp, time.Minute))

	got, err = cache.Get(ctx, "http:user-1:POST:/api/v1/orders:k1")
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}
