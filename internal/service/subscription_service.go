package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/idempotency"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultSweepBatch = 200

// SubscriptionService answers access checks and keeps cached subscription
// status honest. Reads never trust the cached flag alone.
type SubscriptionService struct {
	subs      subscription.Repository
	claims    idempotency.Store
	txManager TransactionManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
	batch     int
	now       func() time.Time
}

func NewSubscriptionService(
	subs subscription.Repository,
	claims idempotency.Store,
	txManager TransactionManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	batch int,
) *SubscriptionService {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &SubscriptionService{
		subs:      subs,
		claims:    claims,
		txManager: txManager,
		metrics:   metrics,
		logger:    logger,
		batch:     batch,
		now:       time.Now,
	}
}

// Access is the answer to an access check.
type Access struct {
	Active       bool
	Status       subscription.Status
	PeriodEnd    time.Time
	Subscription *subscription.Subscription
}

// CheckAccess computes effective access for owner in group and persists any
// drift it finds, so a stale active flag is corrected by the read itself.
func (s *SubscriptionService) CheckAccess(ctx context.Context, ownerID, groupID string) (*Access, error) {
	sub, err := s.subs.Get(ctx, ownerID, groupID)
	if errors.Is(err, domainErrors.ErrSubscriptionNotFound) {
		return &Access{Active: false}, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if next, changed := sub.Reconcile(now); changed {
		if _, err := s.subs.MarkExpired(ctx, next); err != nil {
			// access is still computed correctly; the sweep retries the write
			s.logger.Warn().Err(err).Str("subscription_id", sub.ID.String()).Msg("Failed to persist reconciled subscription")
		} else {
			s.metrics.Reconciled("read", 1)
		}
		sub = next
	}

	return &Access{
		Active:       sub.IsEffectivelyActive(now),
		Status:       sub.CachedStatus,
		PeriodEnd:    sub.CurrentPeriodEnd,
		Subscription: sub,
	}, nil
}

// Sweep downgrades every active-cached subscription of a group whose period
// has ended. It returns how many rows it changed.
func (s *SubscriptionService) Sweep(ctx context.Context, groupID string) (int, error) {
	now := s.now()
	after := uuid.Nil
	changed := 0
	for {
		page, err := s.subs.ListActiveExpired(ctx, groupID, now, after, s.batch)
		if err != nil {
			return changed, fmt.Errorf("list group %s: %w", groupID, err)
		}
		for _, sub := range page {
			after = sub.ID
			next, drift := sub.Reconcile(now)
			if !drift {
				continue
			}
			ok, err := s.subs.MarkExpired(ctx, next)
			if err != nil {
				return changed, fmt.Errorf("expire subscription %s: %w", sub.ID, err)
			}
			if ok {
				changed++
			}
		}
		if len(page) < s.batch {
			break
		}
	}
	s.metrics.Reconciled("sweep", changed)
	return changed, nil
}

// SweepAll sweeps every group with active subscriptions.
func (s *SubscriptionService) SweepAll(ctx context.Context) (int, error) {
	groups, err := s.subs.ListGroupsWithActive(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, g := range groups {
		n, err := s.Sweep(ctx, g)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.logger.Info().Int("expired", total).Int("groups", len(groups)).Msg("Subscription sweep finished")
	}
	return total, nil
}

// BillingOutcome describes what a billing event did.
type BillingOutcome string

const (
	BillingApplied   BillingOutcome = "applied"
	BillingCreated   BillingOutcome = "created"
	BillingDuplicate BillingOutcome = "duplicate"
	// BillingIgnored marks events older than the stored period.
	BillingIgnored BillingOutcome = "ignored"
)

// ApplyBillingEvent applies a provider billing event. It is the only path
// that can move a subscription back to active.
func (s *SubscriptionService) ApplyBillingEvent(ctx context.Context, ev subscription.BillingEvent) (BillingOutcome, error) {
	outcome := BillingApplied
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := s.claims.TryClaim(txCtx, ev.IdempotencyKey(), string(ev.Kind))
		if err != nil {
			return fmt.Errorf("claim billing event: %w", err)
		}
		if !claimed {
			outcome = BillingDuplicate
			return nil
		}

		sub, err := s.subs.GetByProviderID(txCtx, ev.Provider, ev.ProviderSubscriptionID)
		if errors.Is(err, domainErrors.ErrSubscriptionNotFound) && ev.CanCreate() {
			created, err := s.createFromBilling(txCtx, ev)
			if err != nil {
				return err
			}
			outcome = BillingIgnored
			if created {
				outcome = BillingCreated
			}
			return nil
		}
		if err != nil {
			return err
		}
		if !sub.Apply(ev, s.now()) {
			outcome = BillingIgnored
			return nil
		}
		return s.subs.Update(txCtx, sub)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info().
		Str("provider", ev.Provider).
		Str("provider_subscription_id", ev.ProviderSubscriptionID).
		Str("kind", string(ev.Kind)).
		Str("outcome", string(outcome)).
		Msg("Billing event processed")
	return outcome, nil
}

// createFromBilling inserts the subscription a first renewal announces. An
// owner who already has a row in the group is rebound to the new provider
// subscription instead.
func (s *SubscriptionService) createFromBilling(ctx context.Context, ev subscription.BillingEvent) (bool, error) {
	now := s.now()
	existing, err := s.subs.Get(ctx, ev.OwnerID, ev.GroupID)
	switch {
	case err == nil:
		existing.Provider = ev.Provider
		existing.ProviderSubscriptionID = ev.ProviderSubscriptionID
		if !existing.Apply(ev, now) {
			return false, nil
		}
		return true, s.subs.Update(ctx, existing)
	case !errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		return false, err
	}

	sub := subscription.NewFromBilling(ev, now)
	if !sub.Apply(ev, now) {
		return false, nil
	}
	return true, s.subs.Create(ctx, sub)
}

// Billing returns the full subscription record for its owner, reconciled
// the same way CheckAccess is.
func (s *SubscriptionService) Billing(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error) {
	access, err := s.CheckAccess(ctx, ownerID, groupID)
	if err != nil {
		return nil, err
	}
	if access.Subscription == nil {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	return access.Subscription, nil
}
