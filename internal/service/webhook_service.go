package service

import (
	"context"
	"errors"
	"net/url"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/orderrecon/internal/providers"
	"github.com/rs/zerolog"
)

// Outcome is how an inbound provider notification was handled. Every
// outcome is logged and counted.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeNoop             Outcome = "noop"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeRejected         Outcome = "rejected"
	OutcomeUnrecognized     Outcome = "unrecognized"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeUnknownOrder     Outcome = "unknown_order"
	// OutcomeCreated marks a billing event that created its subscription.
	OutcomeCreated             Outcome = "created"
	OutcomeUnknownSubscription Outcome = "unknown_subscription"
	OutcomeIgnored             Outcome = "ignored"
	OutcomeFailed              Outcome = "failed"
)

// WebhookResult is returned to the HTTP layer.
type WebhookResult struct {
	Outcome Outcome
	Order   *order.Order
}

// ReconciliationService turns provider webhooks, signed callbacks and poll
// results into ledger events.
type ReconciliationService struct {
	orders        order.Repository
	ledger        *LedgerService
	subscriptions *SubscriptionService
	registry      *providers.Registry
	metrics       *observability.Metrics
	logger        zerolog.Logger
	now           func() time.Time
}

func NewReconciliationService(
	orders order.Repository,
	ledger *LedgerService,
	subscriptions *SubscriptionService,
	registry *providers.Registry,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ReconciliationService {
	return &ReconciliationService{
		orders:        orders,
		ledger:        ledger,
		subscriptions: subscriptions,
		registry:      registry,
		metrics:       metrics,
		logger:        logger,
		now:           time.Now,
	}
}

// HandleWebhook verifies and applies one provider webhook delivery. Errors
// are returned only for signature failures and internal failures; everything
// else, unknown orders included, is an acknowledged outcome.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, provider order.Provider, raw []byte, signature string) (*WebhookResult, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	delivery, err := adapter.TranslateNotification(raw, signature)
	if err != nil {
		return s.translateFailure(ctx, provider, err)
	}
	if delivery.Billing != nil {
		return s.handleBilling(ctx, provider, *delivery.Billing)
	}
	return s.applyInbound(ctx, delivery.Payment)
}

// HandleDeferredCallback applies the signed browser redirect of the deferred provider.
func (s *ReconciliationService) HandleDeferredCallback(ctx context.Context, query url.Values) (*WebhookResult, error) {
	adapter, err := s.registry.Get(order.ProviderDeferred)
	if err != nil {
		return nil, err
	}
	ev, err := adapter.TranslateCallback(query)
	if err != nil {
		return s.translateFailure(ctx, order.ProviderDeferred, err)
	}
	return s.applyInbound(ctx, ev)
}

func (s *ReconciliationService) translateFailure(ctx context.Context, provider order.Provider, err error) (*WebhookResult, error) {
	switch {
	case errors.Is(err, domainErrors.ErrSignatureInvalid):
		s.record(ctx, provider, "", OutcomeInvalidSignature, err)
		return &WebhookResult{Outcome: OutcomeInvalidSignature}, err
	case errors.Is(err, domainErrors.ErrUnrecognizedEvent):
		s.record(ctx, provider, "", OutcomeUnrecognized, err)
		return &WebhookResult{Outcome: OutcomeUnrecognized}, nil
	}
	s.record(ctx, provider, "", OutcomeFailed, err)
	return nil, err
}

func (s *ReconciliationService) handleBilling(ctx context.Context, provider order.Provider, ev subscription.BillingEvent) (*WebhookResult, error) {
	outcome, err := s.subscriptions.ApplyBillingEvent(ctx, ev)
	switch {
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		// nothing to create it from; the delivery is still authentic
		s.record(ctx, provider, ev.ProviderSubscriptionID, OutcomeUnknownSubscription, err)
		return &WebhookResult{Outcome: OutcomeUnknownSubscription}, nil
	case err != nil:
		s.record(ctx, provider, ev.ProviderSubscriptionID, OutcomeFailed, err)
		return nil, err
	}

	result := OutcomeApplied
	switch outcome {
	case BillingCreated:
		result = OutcomeCreated
	case BillingDuplicate:
		result = OutcomeDuplicate
	case BillingIgnored:
		result = OutcomeIgnored
	}
	s.record(ctx, provider, ev.ProviderSubscriptionID, result, nil)
	return &WebhookResult{Outcome: result}, nil
}

// applyInbound resolves the event's order and applies it through the ledger.
func (s *ReconciliationService) applyInbound(ctx context.Context, ev order.Event) (*WebhookResult, error) {
	o, err := s.ledger.Resolve(ctx, ev)
	if err != nil {
		if errors.Is(err, domainErrors.ErrOrderNotFound) {
			// the handle may not be committed yet; the pending poll picks the
			// payment up once it is
			s.record(ctx, ev.Provider, ev.ExternalID, OutcomeUnknownOrder, err)
			return &WebhookResult{Outcome: OutcomeUnknownOrder}, nil
		}
		s.record(ctx, ev.Provider, ev.ExternalID, OutcomeFailed, err)
		return nil, err
	}

	res, err := s.ledger.ApplyWithRetry(ctx, o.ID, ev)
	if err != nil {
		if domainErrors.IsTransitionRejected(err) {
			s.record(ctx, ev.Provider, ev.ExternalID, OutcomeRejected, err)
			return &WebhookResult{Outcome: OutcomeRejected, Order: o}, nil
		}
		s.record(ctx, ev.Provider, ev.ExternalID, OutcomeFailed, err)
		return nil, err
	}

	outcome := OutcomeNoop
	switch {
	case res.Duplicate:
		outcome = OutcomeDuplicate
	case res.Changed:
		outcome = OutcomeApplied
	}
	s.record(ctx, ev.Provider, ev.ExternalID, outcome, nil)
	return &WebhookResult{Outcome: outcome, Order: res.Order}, nil
}

func (s *ReconciliationService) record(ctx context.Context, provider order.Provider, externalID string, outcome Outcome, err error) {
	s.metrics.Webhook(string(provider), string(outcome))
	log := observability.WithTrace(ctx, s.logger)
	e := log.Info()
	if outcome == OutcomeFailed || outcome == OutcomeInvalidSignature {
		e = log.Warn()
	}
	if err != nil {
		e = e.Str("reason", err.Error())
	}
	e.Str("provider", string(provider)).
		Str("external_id", externalID).
		Str("outcome", string(outcome)).
		Msg("Provider notification handled")
}

// Refresh asks the order's active provider for its current state and merges
// the answer through the ledger. Orders without an open handle come back as is.
func (s *ReconciliationService) Refresh(ctx context.Context, o *order.Order) (*order.Order, error) {
	provider, ok := o.ActiveProvider()
	if !ok {
		return o, nil
	}
	h, ok := providers.HandleFor(o, provider)
	if !ok {
		return o, nil
	}
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ev, err := adapter.PollStatus(ctx, h)
	s.metrics.ProviderCall(string(provider), "poll", callResult(err), time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domainErrors.ErrNoProviderHandle) {
			return o, nil
		}
		return nil, err
	}
	ev.OrderID = o.ID

	res, err := s.ledger.ApplyWithRetry(ctx, o.ID, ev)
	if err != nil {
		if domainErrors.IsTransitionRejected(err) {
			s.logger.Info().Err(err).Str("order_id", o.ID.String()).Msg("Poll result not applied")
			return s.orders.GetByID(ctx, o.ID)
		}
		return nil, err
	}
	return res.Order, nil
}

// PollPending refreshes orders that have waited longer than age for a
// webhook. It returns how many orders it refreshed without error.
func (s *ReconciliationService) PollPending(ctx context.Context, age time.Duration, limit int) (int, error) {
	stale, err := s.orders.ListPendingOlderThan(ctx, s.now().Add(-age), limit)
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, o := range stale {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.Refresh(ctx, o); err != nil {
			s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("Polling fallback failed")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// ReconcileVoids retries the provider void of canceled orders whose void
// could not be confirmed at cancellation time.
func (s *ReconciliationService) ReconcileVoids(ctx context.Context, limit int) (int, error) {
	orders, err := s.orders.ListUnconfirmedVoids(ctx, limit)
	if err != nil {
		return 0, err
	}
	confirmed := 0
	for _, o := range orders {
		if err := s.voidAll(ctx, o); err != nil {
			s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("Void still unconfirmed")
			continue
		}
		if err := s.ledger.ConfirmVoid(ctx, o.ID); err != nil {
			s.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("Failed to record confirmed void")
			continue
		}
		confirmed++
	}
	return confirmed, nil
}

// voidAll voids every provider handle the order ever had. A handle the
// provider no longer knows counts as voided.
func (s *ReconciliationService) voidAll(ctx context.Context, o *order.Order) error {
	for provider, externalID := range o.ExternalRefs {
		adapter, err := s.registry.Get(provider)
		if err != nil || !adapter.CanVoid() {
			continue
		}
		err = adapter.Void(ctx, providers.Handle{Provider: provider, ExternalID: externalID})
		if err != nil && !errors.Is(err, domainErrors.ErrNoProviderHandle) {
			return err
		}
	}
	return nil
}
