package idempotency

import (
	"context"
	"time"
)

// DefaultRetention is how long a claimed key suppresses duplicates.
const DefaultRetention = 30 * 24 * time.Hour

// Record is a claimed idempotency key.
type Record struct {
	Key           string
	AppliedAt     time.Time
	ResultSummary string
	ExpiresAt     time.Time
}

// Store claims keys with a single atomic test-and-set. Claiming a key twice
// within retention is the only thing that suppresses a duplicate.
type Store interface {
	// TryClaim records key and returns true, or returns false when the key
	// was already claimed within the retention window.
	TryClaim(ctx context.Context, key, summary string) (bool, error)
}

// NotificationKey is the claim key for a notification intent.
func NotificationKey(template, orderID string) string {
	return "notify:" + template + ":" + orderID
}

// ConsumptionKey is the claim key for an order's stock and coupon intent.
func ConsumptionKey(orderID string) string {
	return "consume:" + orderID
}

// ConsumedKey is claimed by the worker in the same transaction that applies
// the consumption, so a redelivered intent is a no-op.
func ConsumedKey(orderID string) string {
	return "consumed:" + orderID
}
