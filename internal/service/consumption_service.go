package service

import (
	"context"
	"fmt"

	"github.com/cassiomorais/orderrecon/internal/domain/idempotency"
	"github.com/cassiomorais/orderrecon/internal/domain/inventory"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/orderrecon/internal/notification"
	"github.com/rs/zerolog"
)

// EventHandler handles one decoded stream message.
type EventHandler interface {
	Handle(ctx context.Context, n Notification) error
}

// EventRouter hands each stream message to the handler registered for its
// event type. Unknown types are permanent failures.
type EventRouter struct {
	handlers map[string]EventHandler
}

func NewEventRouter() *EventRouter {
	return &EventRouter{handlers: make(map[string]EventHandler)}
}

func (r *EventRouter) Register(eventType string, h EventHandler) *EventRouter {
	r.handlers[eventType] = h
	return r
}

func (r *EventRouter) Handle(ctx context.Context, n Notification) error {
	h, ok := r.handlers[n.EventType]
	if !ok {
		return fmt.Errorf("%w: unsupported event type %q", notification.ErrPermanent, n.EventType)
	}
	return h.Handle(ctx, n)
}

// ConsumptionService decrements stock and redeems the coupon of a paid order.
// The consumed claim and the stock writes share one transaction, so a
// redelivered intent changes nothing.
type ConsumptionService struct {
	stock     inventory.Repository
	claims    idempotency.Store
	txManager TransactionManager
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewConsumptionService(stock inventory.Repository, claims idempotency.Store, txManager TransactionManager, metrics *observability.Metrics, logger zerolog.Logger) *ConsumptionService {
	return &ConsumptionService{stock: stock, claims: claims, txManager: txManager, metrics: metrics, logger: logger}
}

func (s *ConsumptionService) Handle(ctx context.Context, n Notification) error {
	intent, err := inventory.ParseIntent(n.Payload)
	if err != nil {
		s.metrics.Consumption("dead_letter")
		return fmt.Errorf("%w: entry %s: %v", notification.ErrPermanent, n.EntryID, err)
	}
	orderID := intent.OrderID.String()
	log := s.logger.With().Str("order_id", orderID).Logger()

	duplicate := false
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := s.claims.TryClaim(txCtx, idempotency.ConsumedKey(orderID), n.EntryID)
		if err != nil {
			return fmt.Errorf("claim consumption: %w", err)
		}
		if !claimed {
			duplicate = true
			return nil
		}

		for _, it := range intent.Items {
			remaining, tracked, err := s.stock.Decrement(txCtx, it.SKU, it.Quantity)
			if err != nil {
				return err
			}
			if !tracked {
				log.Debug().Str("sku", it.SKU).Msg("SKU has no stock record")
				continue
			}
			if remaining < 0 {
				log.Warn().Str("sku", it.SKU).Int("on_hand", remaining).Msg("Paid order oversold SKU")
			}
		}

		if intent.CouponCode == "" {
			return nil
		}
		overLimit, known, err := s.stock.RedeemCoupon(txCtx, intent.CouponCode)
		if err != nil {
			return err
		}
		switch {
		case !known:
			log.Warn().Str("coupon", intent.CouponCode).Msg("Paid order used unknown coupon")
		case overLimit:
			log.Warn().Str("coupon", intent.CouponCode).Msg("Coupon redeemed past its limit")
		}
		return nil
	})
	if err != nil {
		s.metrics.Consumption("retry")
		return err
	}

	if duplicate {
		s.metrics.Consumption("duplicate")
		log.Debug().Msg("Consumption already applied")
		return nil
	}
	s.metrics.Consumption("applied")
	log.Info().Int("items", len(intent.Items)).Msg("Order consumption applied")
	return nil
}
