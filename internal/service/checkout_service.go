package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/orderrecon/internal/providers"
	"github.com/cassiomorais/orderrecon/pkg/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultVoidTimeout bounds the provider void attempted during cancellation.
const DefaultVoidTimeout = 3 * time.Second

// CheckoutService creates orders, starts payments and cancels orders.
type CheckoutService struct {
	orders      order.Repository
	ledger      *LedgerService
	registry    *providers.Registry
	metrics     *observability.Metrics
	logger      zerolog.Logger
	voidTimeout time.Duration
}

func NewCheckoutService(
	orders order.Repository,
	ledger *LedgerService,
	registry *providers.Registry,
	metrics *observability.Metrics,
	logger zerolog.Logger,
	voidTimeout time.Duration,
) *CheckoutService {
	if voidTimeout <= 0 {
		voidTimeout = DefaultVoidTimeout
	}
	return &CheckoutService{
		orders:      orders,
		ledger:      ledger,
		registry:    registry,
		metrics:     metrics,
		logger:      logger,
		voidTimeout: voidTimeout,
	}
}

// CheckoutRequest holds the input for creating an order.
type CheckoutRequest struct {
	IdempotencyKey string
	CustomerID     string
	CustomerEmail  string
	Currency       string
	LineItems      []order.LineItem
	CouponCode     string
	// Provider starts a payment right away when set.
	Provider order.Provider
}

// CheckoutResult holds the created order and, when a payment was started, its handle.
type CheckoutResult struct {
	Order  *order.Order
	Handle *providers.Handle
	// Replayed is set when the idempotency key matched an earlier checkout.
	Replayed bool
	// PaymentErr is the initiation failure. The order stays pending and the
	// customer may retry with InitiatePayment.
	PaymentErr error
}

// Checkout creates an order once per idempotency key.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	existing, err := s.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil && existing != nil {
		return &CheckoutResult{Order: existing, Replayed: true}, nil
	}
	if err != nil && !errors.Is(err, domainErrors.ErrOrderNotFound) {
		return nil, err
	}

	o, err := order.NewOrder(req.IdempotencyKey, req.CustomerID, req.CustomerEmail, req.Currency, req.LineItems)
	if err != nil {
		return nil, err
	}
	o.CouponCode = req.CouponCode

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, domainErrors.ErrDuplicateIdempotencyKey) {
			// lost a race with a concurrent request carrying the same key
			existing, getErr := s.orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if getErr != nil {
				return nil, getErr
			}
			return &CheckoutResult{Order: existing, Replayed: true}, nil
		}
		return nil, err
	}
	s.logger.Info().Str("order_id", o.ID.String()).Str("amount", o.Amount.String()).Msg("Order created")

	result := &CheckoutResult{Order: o}
	if req.Provider == "" {
		return result, nil
	}

	initiated, err := s.initiate(ctx, o, req.Provider)
	if err != nil {
		result.PaymentErr = err
		return result, nil
	}
	result.Order = initiated.Order
	result.Handle = initiated.Handle
	return result, nil
}

// InitiateResult holds the order after a payment was started.
type InitiateResult struct {
	Order  *order.Order
	Handle *providers.Handle
}

// InitiatePayment starts (or restarts with another provider) the payment of a pending order.
func (s *CheckoutService) InitiatePayment(ctx context.Context, orderID uuid.UUID, customerID string, provider order.Provider) (*InitiateResult, error) {
	o, err := s.ownedOrder(ctx, orderID, customerID)
	if err != nil {
		return nil, err
	}
	if !o.Status.IsPending() {
		return nil, domainErrors.NewTransitionRejected(
			fmt.Sprintf("cannot start a payment for an order in %s", o.Status),
			domainErrors.ErrInvalidStateTransition,
		)
	}
	return s.initiate(ctx, o, provider)
}

// initiate calls the provider and records the handle through the ledger. If
// recording fails, the provider handle is voided so no orphan payment remains.
// A provider failure never moves the order.
func (s *CheckoutService) initiate(ctx context.Context, o *order.Order, provider order.Provider) (*InitiateResult, error) {
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	var handle *providers.Handle
	var applied *ApplyResult
	start := time.Now()

	sg := saga.New("initiate-payment").
		AddStep(saga.Step{
			Name: "provider-initiate",
			Execute: func(ctx context.Context) error {
				h, err := adapter.Initiate(ctx, o, o.Amount)
				s.metrics.ProviderCall(string(provider), "initiate", callResult(err), time.Since(start).Seconds())
				if err != nil {
					return err
				}
				handle = h
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if !adapter.CanVoid() {
					return nil
				}
				vctx, cancel := context.WithTimeout(ctx, s.voidTimeout)
				defer cancel()
				return adapter.Void(vctx, providers.Handle{Provider: provider, ExternalID: handle.ExternalID})
			},
		}).
		AddStep(saga.Step{
			Name: "record-handle",
			Execute: func(ctx context.Context) error {
				ev := handle.Event
				ev.OrderID = o.ID
				res, err := s.ledger.ApplyWithRetry(ctx, o.ID, ev)
				if err != nil {
					return err
				}
				applied = res
				return nil
			},
		})

	if err := sg.Execute(ctx); err != nil {
		s.logger.Warn().Err(err).
			Str("order_id", o.ID.String()).
			Str("provider", string(provider)).
			Msg("Payment initiation failed")
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) && !stepErr.Compensated() {
			// the provider may still hold a payment this order does not reference
			s.metrics.UnconfirmedVoid()
		}
		return nil, err
	}

	return &InitiateResult{Order: applied.Order, Handle: handle}, nil
}

// Cancel cancels a pending order for its owner. An outstanding provider
// authorization is voided first under a bounded timeout; when the void
// cannot be confirmed the local cancellation still proceeds and the order is
// flagged for the void reconciler. An order that another writer moved out of
// pending while the void was in flight is flagged the same way and the
// cancel is answered as stale.
func (s *CheckoutService) Cancel(ctx context.Context, orderID uuid.UUID, customerID string, expectedVersion *int64) (*order.Order, error) {
	o, err := s.ownedOrder(ctx, orderID, customerID)
	if err != nil {
		return nil, err
	}
	if !o.Status.IsPending() {
		return nil, domainErrors.NewDomainError("not_cancelable",
			fmt.Sprintf("order in %s cannot be canceled", o.Status), domainErrors.ErrNotCancelable)
	}
	if expectedVersion != nil && *expectedVersion != o.Version {
		return nil, domainErrors.NewTransitionRejected("order changed since it was read", domainErrors.ErrOptimisticLockFailed)
	}

	remote := order.RemoteVoidNone
	if provider, ok := o.ActiveProvider(); ok {
		remote = s.voidRemote(ctx, o, provider)
	}

	res, err := s.applyCancel(ctx, o, remote)
	if err == nil {
		return res.Order, nil
	}
	if remote == order.RemoteVoidNone || !domainErrors.IsStale(err) {
		return nil, err
	}

	// The provider was already asked to void, so the local cancel must not
	// be dropped. Retry once on a fresh read while the order is still pending.
	fresh, readErr := s.orders.GetByID(ctx, o.ID)
	if readErr == nil && fresh.Status.IsPending() {
		if res, err = s.applyCancel(ctx, fresh, remote); err == nil {
			return res.Order, nil
		}
	}
	s.logger.Error().Err(err).Str("order_id", o.ID.String()).Str("remote_void", string(remote)).
		Msg("Order changed while its provider void was in flight")
	if flagErr := s.ledger.FlagVoid(ctx, o.ID, err.Error()); flagErr != nil {
		s.logger.Error().Err(flagErr).Str("order_id", o.ID.String()).Msg("Failed to flag order for void reconciliation")
	}
	s.metrics.UnconfirmedVoid()
	return nil, err
}

func (s *CheckoutService) applyCancel(ctx context.Context, o *order.Order, remote order.RemoteVoid) (*ApplyResult, error) {
	version := o.Version
	return s.ledger.apply(ctx, o.ID, order.NewLocalCancel(o.ID, time.Now()), &version, func(o *order.Order) {
		o.RemoteVoid = remote
	})
}

func (s *CheckoutService) voidRemote(ctx context.Context, o *order.Order, provider order.Provider) order.RemoteVoid {
	log := s.logger.With().Str("order_id", o.ID.String()).Str("provider", string(provider)).Logger()

	adapter, err := s.registry.Get(provider)
	if err != nil {
		log.Warn().Err(err).Msg("No adapter to void with")
		s.metrics.UnconfirmedVoid()
		return order.RemoteVoidUnconfirmed
	}
	h, ok := providers.HandleFor(o, provider)
	if !ok || !adapter.CanVoid() {
		log.Warn().Msg("Provider handle cannot be voided")
		s.metrics.UnconfirmedVoid()
		return order.RemoteVoidUnconfirmed
	}

	vctx, cancel := context.WithTimeout(ctx, s.voidTimeout)
	defer cancel()
	start := time.Now()
	err = adapter.Void(vctx, h)
	s.metrics.ProviderCall(string(provider), "void", callResult(err), time.Since(start).Seconds())
	if err != nil {
		log.Warn().Err(err).Str("external_id", h.ExternalID).Msg("Void not confirmed, canceling locally")
		s.metrics.UnconfirmedVoid()
		return order.RemoteVoidUnconfirmed
	}
	return order.RemoteVoidConfirmed
}

// GetOrder returns an order to its owner.
func (s *CheckoutService) GetOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*order.Order, error) {
	return s.ownedOrder(ctx, orderID, customerID)
}

// History returns the audit trail of an order owned by customerID, oldest first.
func (s *CheckoutService) History(ctx context.Context, orderID uuid.UUID, customerID string) ([]*order.AuditEvent, error) {
	if _, err := s.ownedOrder(ctx, orderID, customerID); err != nil {
		return nil, err
	}
	events, err := s.orders.GetEvents(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order history: %w", err)
	}
	return events, nil
}

func (s *CheckoutService) ownedOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*order.Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		// do not reveal that the order exists
		return nil, domainErrors.ErrOrderNotFound
	}
	return o, nil
}

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domainErrors.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, domainErrors.ErrProviderUnavailable):
		return "unavailable"
	case errors.Is(err, domainErrors.ErrProviderRejected):
		return "rejected"
	default:
		return "error"
	}
}
