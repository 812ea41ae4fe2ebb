package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/idempotency"
	"github.com/cassiomorais/orderrecon/internal/domain/inventory"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/orderrecon/pkg/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TemplateOrderConfirmation is the notification sent when an order is first paid.
const TemplateOrderConfirmation = "order_confirmation"

// LedgerService is the only writer of order status. Webhooks, polls,
// checkout responses and cancellations all converge through Apply.
type LedgerService struct {
	orders    order.Repository
	claims    idempotency.Store
	outbox    outbox.Repository
	txManager TransactionManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewLedgerService(
	orders order.Repository,
	claims idempotency.Store,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		orders:    orders,
		claims:    claims,
		outbox:    outboxRepo,
		txManager: txManager,
		metrics:   metrics,
		logger:    logger,
		tracer:    otel.Tracer("orderrecon/ledger"),
		now:       time.Now,
	}
}

// ApplyResult describes the effect of one Apply call.
type ApplyResult struct {
	Order *order.Order
	// Duplicate is set when the event's idempotency key was already claimed.
	Duplicate bool
	// Changed is set when status or payment status moved.
	Changed bool
	From    order.Status
}

// Apply folds ev into the order inside one transaction. When expectedVersion
// is set and does not match the stored version the call is rejected as stale.
// A rejected transition rolls back the idempotency claim with everything else.
func (s *LedgerService) Apply(ctx context.Context, orderID uuid.UUID, ev order.Event, expectedVersion *int64) (*ApplyResult, error) {
	return s.apply(ctx, orderID, ev, expectedVersion, nil)
}

// apply runs mutate on the order after a successful transition and before it is written.
func (s *LedgerService) apply(ctx context.Context, orderID uuid.UUID, ev order.Event, expectedVersion *int64, mutate func(*order.Order)) (*ApplyResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.apply", trace.WithAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("event.kind", string(ev.Kind)),
		attribute.String("event.provider", string(ev.Provider)),
	))
	defer span.End()
	start := s.now()

	if _, err := ev.TargetStatus(); err != nil {
		return nil, err
	}
	if ev.OrderID == uuid.Nil {
		ev.OrderID = orderID
	}

	var result ApplyResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := s.claims.TryClaim(txCtx, ev.IdempotencyKey(), ev.Summary())
		if err != nil {
			return fmt.Errorf("claim event: %w", err)
		}

		o, err := s.orders.GetByID(txCtx, orderID)
		if err != nil {
			return err
		}
		result.Order = o
		result.From = o.Status

		if !claimed {
			result.Duplicate = true
			return nil
		}

		if expectedVersion != nil && *expectedVersion != o.Version {
			return domainErrors.NewTransitionRejected(
				fmt.Sprintf("order version is %d, caller expected %d", o.Version, *expectedVersion),
				domainErrors.ErrOptimisticLockFailed,
			)
		}

		outcome, err := o.Transition(ev, s.now())
		if err != nil {
			return err
		}
		if outcome == order.OutcomeNoop {
			return nil
		}
		if mutate != nil {
			mutate(o)
		}

		if err := s.orders.Update(txCtx, o, o.Version); err != nil {
			return err
		}
		result.Changed = true

		if err := s.orders.AddEvent(txCtx, &order.AuditEvent{
			ID:        uuid.New(),
			OrderID:   o.ID,
			EventType: "order." + string(ev.Kind),
			EventData: map[string]any{
				"from":           string(result.From),
				"to":             string(o.Status),
				"payment_status": string(o.PaymentStatus),
				"provider":       string(ev.Provider),
				"external_id":    ev.ExternalID,
			},
			CreatedAt: s.now().UTC(),
		}); err != nil {
			return err
		}

		if result.From != order.StatusPaid && o.Status == order.StatusPaid {
			if err := s.enqueueConfirmation(txCtx, o); err != nil {
				return err
			}
			return s.enqueueConsumption(txCtx, o)
		}
		return nil
	})

	s.metrics.ObserveApply(s.now().Sub(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if domainErrors.IsTransitionRejected(err) {
			reason := "illegal"
			if domainErrors.IsStale(err) {
				reason = "stale"
			}
			s.metrics.Rejection(reason)
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Bool("ledger.duplicate", result.Duplicate),
		attribute.Bool("ledger.changed", result.Changed),
	)
	if result.Changed {
		s.metrics.Transition(string(result.From), string(result.Order.Status))
		log := observability.WithTrace(ctx, s.logger)
		log.Info().
			Str("order_id", orderID.String()).
			Str("provider", string(ev.Provider)).
			Str("external_id", ev.ExternalID).
			Str("from", string(result.From)).
			Str("to", string(result.Order.Status)).
			Msg("Order transitioned")
	}
	return &result, nil
}

// enqueueConfirmation claims the order's confirmation notification and writes
// the outbox intent. A second paid entry never produces a second email.
func (s *LedgerService) enqueueConfirmation(ctx context.Context, o *order.Order) error {
	claimed, err := s.claims.TryClaim(ctx, idempotency.NotificationKey(TemplateOrderConfirmation, o.ID.String()), "queued")
	if err != nil {
		return fmt.Errorf("claim notification: %w", err)
	}
	if !claimed {
		return nil
	}
	entry := outbox.NewEntry(outbox.AggregateOrder, o.ID, outbox.EventOrderConfirmation, map[string]any{
		"order_id": o.ID.String(),
		"template": TemplateOrderConfirmation,
		"email":    o.CustomerEmail,
		"amount":   o.Amount.String(),
	})
	return s.outbox.Insert(ctx, entry)
}

// enqueueConsumption writes the stock and coupon intent of a newly paid
// order, at most once per order.
func (s *LedgerService) enqueueConsumption(ctx context.Context, o *order.Order) error {
	claimed, err := s.claims.TryClaim(ctx, idempotency.ConsumptionKey(o.ID.String()), "queued")
	if err != nil {
		return fmt.Errorf("claim consumption: %w", err)
	}
	if !claimed {
		return nil
	}
	entry := outbox.NewEntry(outbox.AggregateOrder, o.ID, outbox.EventOrderConsumption, inventory.IntentFor(o).Payload())
	return s.outbox.Insert(ctx, entry)
}

// staleRetryConfig re-reads after optimistic conflicts; other errors are final.
func staleRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		RetryIf:      domainErrors.IsStale,
	}
}

// ApplyWithRetry applies a server-originated event that carries no client
// version, retrying when a concurrent writer bumped the version first.
func (s *LedgerService) ApplyWithRetry(ctx context.Context, orderID uuid.UUID, ev order.Event) (*ApplyResult, error) {
	return retry.DoWithResult(ctx, staleRetryConfig(), func() (*ApplyResult, error) {
		return s.Apply(ctx, orderID, ev, nil)
	})
}

// Resolve finds the order an event belongs to, by merchant reference first
// and by the provider's transaction id otherwise.
func (s *LedgerService) Resolve(ctx context.Context, ev order.Event) (*order.Order, error) {
	if ev.OrderID != uuid.Nil {
		o, err := s.orders.GetByID(ctx, ev.OrderID)
		if err == nil || !errors.Is(err, domainErrors.ErrOrderNotFound) || ev.ExternalID == "" {
			return o, err
		}
	}
	if ev.ExternalID == "" {
		return nil, domainErrors.ErrOrderNotFound
	}
	return s.orders.GetByExternalRef(ctx, ev.Provider, ev.ExternalID)
}

// FlagVoid marks an order whose provider void was issued by a cancel that
// then lost the write race, so the void reconciler revisits its handles.
func (s *LedgerService) FlagVoid(ctx context.Context, orderID uuid.UUID, reason string) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		o, err := s.orders.GetByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if o.RemoteVoid == order.RemoteVoidUnconfirmed {
			return nil
		}
		o.RemoteVoid = order.RemoteVoidUnconfirmed
		o.UpdatedAt = s.now().UTC()
		if err := s.orders.Update(txCtx, o, o.Version); err != nil {
			return err
		}
		return s.orders.AddEvent(txCtx, &order.AuditEvent{
			ID:        uuid.New(),
			OrderID:   o.ID,
			EventType: "order.void_unreconciled",
			EventData: map[string]any{"status": string(o.Status), "reason": reason},
			CreatedAt: s.now().UTC(),
		})
	})
}

// ConfirmVoid records that the provider-side void of a canceled order went through.
func (s *LedgerService) ConfirmVoid(ctx context.Context, orderID uuid.UUID) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		o, err := s.orders.GetByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if o.RemoteVoid != order.RemoteVoidUnconfirmed {
			return nil
		}
		o.RemoteVoid = order.RemoteVoidConfirmed
		o.UpdatedAt = s.now().UTC()
		if err := s.orders.Update(txCtx, o, o.Version); err != nil {
			return err
		}
		return s.orders.AddEvent(txCtx, &order.AuditEvent{
			ID:        uuid.New(),
			OrderID:   o.ID,
			EventType: "order.void_confirmed",
			EventData: map[string]any{"status": string(o.Status)},
			CreatedAt: s.now().UTC(),
		})
	})
}
