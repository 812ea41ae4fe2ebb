package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for order persistence
type Repository interface {
	// Create inserts a new order with version 1.
	Create(ctx context.Context, o *Order) error

	// GetByID retrieves an order by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// GetByIdempotencyKey retrieves the order created by a checkout request
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)

	// GetByExternalRef resolves the order a provider transaction id belongs to
	GetByExternalRef(ctx context.Context, provider Provider, externalID string) (*Order, error)

	// Update writes o only if the stored version equals expectedVersion,
	// then sets o.Version to expectedVersion+1. A mismatch returns
	// ErrOptimisticLockFailed.
	Update(ctx context.Context, o *Order, expectedVersion int64) error

	// ListPendingOlderThan returns orders still in a provider pending state
	// whose last update is before cutoff (polling fallback).
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Order, error)

	// ListUnconfirmedVoids returns canceled orders whose provider void is unconfirmed.
	ListUnconfirmedVoids(ctx context.Context, limit int) ([]*Order, error)

	// AddEvent adds an order event for audit trail
	AddEvent(ctx context.Context, event *AuditEvent) error

	// GetEvents retrieves events for an order
	GetEvents(ctx context.Context, orderID uuid.UUID) ([]*AuditEvent, error)
}

// AuditEvent represents an entry in the order's audit trail
type AuditEvent struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	EventType string
	EventData map[string]any
	CreatedAt time.Time
}
