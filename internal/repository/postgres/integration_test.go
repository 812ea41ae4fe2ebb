//go:build integration

package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("orderrecon"),
		tcpostgres.WithUsername("orderrecon"),
		tcpostgres.WithPassword("orderrecon"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../infrastructure/postgres/migrations", dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestIntegration_ConcurrentClaimHasOneWinner(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewIdempotencyRepository(pool, time.Hour)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.TryClaim(ctx, "qr_a:X1:captured", "captured")
			assert.NoError(t, err)
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestIntegration_ClaimRolledBackWithTransaction(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewIdempotencyRepository(pool, time.Hour)
	txm := NewTxManager(pool)
	ctx := context.Background()

	err := txm.WithTransaction(ctx, func(ctx context.Context) error {
		claimed, err := repo.TryClaim(ctx, "card:ch_1:captured", "captured")
		require.NoError(t, err)
		require.True(t, claimed)
		return domainErrors.ErrInvalidStateTransition
	})
	require.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)

	claimed, err := repo.TryClaim(ctx, "card:ch_1:captured", "captured")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIntegration_ExpiredClaimsAreReclaimedAndPurged(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	live := NewIdempotencyRepository(pool, time.Hour)
	claimed, err := live.TryClaim(ctx, "qr_b:Y1:captured", "captured")
	require.NoError(t, err)
	require.True(t, claimed)
	rec, err := live.Get(ctx, "qr_b:Y1:captured")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "captured", rec.ResultSummary)

	short := NewIdempotencyRepository(pool, 10*time.Millisecond)
	claimed, err = short.TryClaim(ctx, "qr_b:Y2:captured", "captured")
	require.NoError(t, err)
	require.True(t, claimed)
	time.Sleep(100 * time.Millisecond)

	rec, err = short.Get(ctx, "qr_b:Y2:captured")
	require.NoError(t, err)
	assert.Nil(t, rec)

	deleted, err := short.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	claimed, err = short.TryClaim(ctx, "qr_b:Y2:captured", "captured")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIntegration_OrderVersionedUpdate(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewOrderRepository(pool)
	ctx := context.Background()

	o, err := order.NewOrder("checkout-1", "cust-1", "fan@example.com", "JPY",
		[]order.LineItem{{SKU: "TICKET", Quantity: 1, UnitPrice: 5000}})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, o))

	_, err = o.Transition(order.Event{Kind: order.EventAwaitingPayment, Provider: order.ProviderQRA, ExternalID: "X1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, o, 1))
	assert.Equal(t, int64(2), o.Version)

	err = repo.Update(ctx, o, 1)
	assert.True(t, domainErrors.IsStale(err))

	found, err := repo.GetByExternalRef(ctx, order.ProviderQRA, "X1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, found.ID)
	assert.Equal(t, order.StatusPendingProviderA, found.Status)

	err = repo.Create(ctx, &order.Order{ID: uuid.New(), IdempotencyKey: "checkout-1", Amount: o.Amount, Status: order.StatusPending, RemoteVoid: order.RemoteVoidNone, Version: 1})
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateIdempotencyKey)
}

func TestIntegration_SubscriptionExpiryIsConditional(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewSubscriptionRepository(pool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	sub := &subscription.Subscription{
		ID: uuid.New(), OwnerID: "member-1", GroupID: "club-1", Provider: "card",
		ProviderSubscriptionID: "sub_1", CachedStatus: subscription.StatusActive,
		CurrentPeriodEnd: now.Add(-time.Hour), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.Create(ctx, sub))

	expired, changed := sub.Reconcile(now)
	require.True(t, changed)

	ok, err := repo.MarkExpired(ctx, expired)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkExpired(ctx, expired)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.Get(ctx, "member-1", "club-1")
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusExpired, stored.CachedStatus)
}

func TestIntegration_OutboxLifecycle(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewOutboxRepository(pool)
	txm := NewTxManager(pool)
	ctx := context.Background()

	entry := outbox.NewEntry(outbox.AggregateOrder, uuid.New(), outbox.EventOrderConfirmation, map[string]any{"template": "order_confirmation"})
	require.NoError(t, repo.Insert(ctx, entry))

	require.NoError(t, txm.WithTransaction(ctx, func(txCtx context.Context) error {
		pending, err := repo.GetPending(txCtx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "order_confirmation", pending[0].Payload["template"])
		return repo.MarkFailed(txCtx, entry.ID, "stream unavailable")
	}))

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "stream unavailable", pending[0].LastError)

	require.NoError(t, repo.MarkPublished(ctx, entry.ID))
	n, err := repo.PurgePublished(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIntegration_InventoryConsumption(t *testing.T) {
	pool := setupPostgres(t)
	repo := NewInventoryRepository(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `INSERT INTO inventory_items (sku, on_hand) VALUES ('TICKET-1', 2)`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO coupons (code, max_redemptions) VALUES ('SPRING10', 1), ('OPEN', NULL)`)
	require.NoError(t, err)

	remaining, tracked, err := repo.Decrement(ctx, "TICKET-1", 3)
	require.NoError(t, err)
	assert.True(t, tracked)
	assert.Equal(t, -1, remaining)

	_, tracked, err = repo.Decrement(ctx, "UNTRACKED", 1)
	require.NoError(t, err)
	assert.False(t, tracked)

	over, known, err := repo.RedeemCoupon(ctx, "SPRING10")
	require.NoError(t, err)
	assert.True(t, known)
	assert.False(t, over)
	over, _, err = repo.RedeemCoupon(ctx, "SPRING10")
	require.NoError(t, err)
	assert.True(t, over)

	over, known, err = repo.RedeemCoupon(ctx, "OPEN")
	require.NoError(t, err)
	assert.True(t, known)
	assert.False(t, over)

	_, known, err = repo.RedeemCoupon(ctx, "MISSING")
	require.NoError(t, err)
	assert.False(t, known)
}
