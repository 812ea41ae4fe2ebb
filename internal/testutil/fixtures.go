package testutil

import (
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/google/uuid"
)

// NewTestOrder returns a pending order for one line item of amount minor units.
func NewTestOrder(amount int64, currency string) *order.Order {
	now := time.Now().UTC()
	return &order.Order{
		ID:             uuid.New(),
		IdempotencyKey: uuid.New().String(),
		CustomerID:     "customer-1",
		CustomerEmail:  "customer@example.com",
		ExternalRefs:   make(map[order.Provider]string),
		Status:         order.StatusPending,
		PaymentStatus:  order.PaymentNone,
		Amount:         order.Amount{Minor: amount, Currency: currency},
		LineItems: []order.LineItem{
			{SKU: "SKU-1", Name: "Item", Quantity: 1, UnitPrice: amount},
		},
		RemoteVoid: order.RemoteVoidNone,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewPendingProviderOrder returns an order awaiting payment at provider p with externalID.
func NewPendingProviderOrder(p order.Provider, externalID string, amount int64, currency string) *order.Order {
	o := NewTestOrder(amount, currency)
	switch p {
	case order.ProviderQRA:
		o.Status = order.StatusPendingProviderA
	case order.ProviderQRB:
		o.Status = order.StatusPendingProviderB
	case order.ProviderDeferred:
		o.Status = order.StatusPendingDeferred
	case order.ProviderCard:
		o.PaymentStatus = order.PaymentAuthorized
	}
	o.ExternalRefs[p] = externalID
	return o
}

// NewTestSubscription returns a subscription with the given cached status and period end.
func NewTestSubscription(ownerID, groupID string, status subscription.Status, periodEnd time.Time) *subscription.Subscription {
	now := time.Now().UTC()
	return &subscription.Subscription{
		ID:                     uuid.New(),
		OwnerID:                ownerID,
		GroupID:                groupID,
		Provider:               "card",
		ProviderSubscriptionID: "sub_" + uuid.New().String()[:8],
		CachedStatus:           status,
		CurrentPeriodEnd:       periodEnd,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}
