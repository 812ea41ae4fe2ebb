package postgres

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `id, owner_id, group_id, provider, provider_subscription_id, cached_status,
	current_period_end, cancel_at_period_end, created_at, updated_at`

// SubscriptionRepository implements subscription.Repository using PostgreSQL.
type SubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(pool *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{pool: pool}
}

func (r *SubscriptionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *SubscriptionRepository) Get(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error) {
	return scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner_id = $1 AND group_id = $2`,
		ownerID, groupID))
}

func (r *SubscriptionRepository) GetByProviderID(ctx context.Context, provider, providerSubscriptionID string) (*subscription.Subscription, error) {
	return scanSubscription(r.db(ctx).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider = $1 AND provider_subscription_id = $2`,
		provider, providerSubscriptionID))
}

func (r *SubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.OwnerID, s.GroupID, s.Provider, s.ProviderSubscriptionID, string(s.CachedStatus),
		s.CurrentPeriodEnd, s.CancelAtPeriodEnd, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.NewDomainError("duplicate_subscription", "subscription already exists", err)
		}
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE subscriptions SET cached_status=$1, current_period_end=$2, cancel_at_period_end=$3, updated_at=$4,
		 provider=$5, provider_subscription_id=$6
		 WHERE id=$7`,
		string(s.CachedStatus), s.CurrentPeriodEnd, s.CancelAtPeriodEnd, s.UpdatedAt,
		s.Provider, s.ProviderSubscriptionID, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrSubscriptionNotFound
	}
	return nil
}

// MarkExpired is conditional on the row still being cached active with the
// same period end, so a concurrent renewal is never overwritten.
func (r *SubscriptionRepository) MarkExpired(ctx context.Context, s *subscription.Subscription) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE subscriptions SET cached_status='expired', updated_at=$1
		 WHERE id=$2 AND cached_status='active' AND current_period_end=$3 AND current_period_end <= $1`,
		s.UpdatedAt, s.ID, s.CurrentPeriodEnd,
	)
	if err != nil {
		return false, fmt.Errorf("expire subscription: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SubscriptionRepository) ListActiveExpired(ctx context.Context, groupID string, now time.Time, after uuid.UUID, limit int) ([]*subscription.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE group_id = $1 AND cached_status = 'active' AND current_period_end <= $2 AND id > $3
		 ORDER BY id ASC
		 LIMIT $4`, groupID, now, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*subscription.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *SubscriptionRepository) ListGroupsWithActive(ctx context.Context) ([]string, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT DISTINCT group_id FROM subscriptions WHERE cached_status = 'active' ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func scanSubscription(s scanner) (*subscription.Subscription, error) {
	sub := &subscription.Subscription{}
	var status string
	err := s.Scan(
		&sub.ID, &sub.OwnerID, &sub.GroupID, &sub.Provider, &sub.ProviderSubscriptionID, &status,
		&sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domainErrors.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	sub.CachedStatus = subscription.Status(status)
	return sub, nil
}
