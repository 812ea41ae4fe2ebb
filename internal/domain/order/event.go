package order

import (
	"fmt"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/google/uuid"
)

// EventKind tags the variant of a ledger event.
type EventKind string

const (
	// EventAwaitingPayment records that a provider handle exists and the
	// customer still has to pay (QR shown, pay-later slip issued).
	EventAwaitingPayment EventKind = "awaiting_payment"
	EventAuthorized      EventKind = "authorized"
	EventCaptured        EventKind = "captured"
	EventPaymentFailed   EventKind = "payment_failed"
	EventExpired         EventKind = "expired"
	EventCanceled        EventKind = "canceled"
	EventRefunded        EventKind = "refunded"
	EventProcessing      EventKind = "processing"
	EventShipped         EventKind = "shipped"
	EventDelivered       EventKind = "delivered"
)

// Event is the provider-independent command the ledger applies. Provider
// adapters translate webhooks, poll results and API responses into Events so
// the ledger never sees provider-specific types.
type Event struct {
	Kind     EventKind
	Provider Provider
	// OrderID is set when the provider echoes our merchant reference.
	OrderID uuid.UUID
	// ExternalID is the provider's transaction id for this order.
	ExternalID string
	// EventID is the provider's delivery id, used only when ExternalID is absent.
	EventID       string
	PaymentStatus PaymentStatus
	OccurredAt    time.Time
}

// pendingFor maps a provider to the pending substate its open handle puts the order in.
var pendingFor = map[Provider]Status{
	ProviderCard:     StatusPending,
	ProviderQRA:      StatusPendingProviderA,
	ProviderQRB:      StatusPendingProviderB,
	ProviderDeferred: StatusPendingDeferred,
}

// TargetStatus returns the business status the event moves the order to.
func (e Event) TargetStatus() (Status, error) {
	switch e.Kind {
	case EventAwaitingPayment, EventAuthorized:
		s, ok := pendingFor[e.Provider]
		if !ok {
			return "", errors.NewValidationError("provider", fmt.Sprintf("no pending state for provider %q", e.Provider))
		}
		return s, nil
	case EventCaptured:
		return StatusPaid, nil
	case EventPaymentFailed, EventExpired:
		return StatusFailed, nil
	case EventCanceled:
		return StatusCanceled, nil
	case EventRefunded:
		return StatusRefunded, nil
	case EventProcessing:
		return StatusProcessing, nil
	case EventShipped:
		return StatusShipped, nil
	case EventDelivered:
		return StatusDelivered, nil
	}
	return "", errors.NewValidationError("kind", fmt.Sprintf("unknown event kind %q", e.Kind))
}

// IdempotencyKey identifies the event across redeliveries. A webhook and a
// poll reporting the same transaction outcome share a key.
func (e Event) IdempotencyKey() string {
	ref := e.ExternalID
	if ref == "" {
		ref = e.EventID
	}
	if ref == "" {
		ref = e.OrderID.String()
	}
	return fmt.Sprintf("%s:%s:%s", e.Provider, ref, e.Kind)
}

// Validate checks that the event can be routed to an order.
func (e Event) Validate() error {
	if e.Kind == "" {
		return errors.NewValidationError("kind", "is required")
	}
	if e.Provider == "" {
		return errors.NewValidationError("provider", "is required")
	}
	if e.ExternalID == "" && e.OrderID == uuid.Nil {
		return errors.NewValidationError("external_id", "external id or order id is required")
	}
	_, err := e.TargetStatus()
	return err
}

// Summary is the short description stored with the idempotency record.
func (e Event) Summary() string {
	if e.PaymentStatus != PaymentNone {
		return fmt.Sprintf("%s (%s)", e.Kind, e.PaymentStatus)
	}
	return string(e.Kind)
}

// NewLocalCancel builds the event for a user-initiated cancellation.
func NewLocalCancel(orderID uuid.UUID, at time.Time) Event {
	return Event{
		Kind:       EventCanceled,
		Provider:   ProviderLocal,
		OrderID:    orderID,
		OccurredAt: at,
	}
}
