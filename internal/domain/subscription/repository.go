package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for subscription persistence
type Repository interface {
	// Get returns the owner's subscription to a group.
	Get(ctx context.Context, ownerID, groupID string) (*Subscription, error)

	// GetByProviderID resolves a subscription from a provider billing event.
	GetByProviderID(ctx context.Context, provider, providerSubscriptionID string) (*Subscription, error)

	// Create inserts a new subscription.
	Create(ctx context.Context, s *Subscription) error

	// Update overwrites status, period and provider binding from a billing event.
	Update(ctx context.Context, s *Subscription) error

	// MarkExpired downgrades the row only while it is still cached active.
	// It reports whether a row changed.
	MarkExpired(ctx context.Context, s *Subscription) (bool, error)

	// ListActiveExpired pages through active-cached subscriptions of a group
	// whose period ended before now, ordered by id after the cursor.
	ListActiveExpired(ctx context.Context, groupID string, now time.Time, after uuid.UUID, limit int) ([]*Subscription, error)

	// ListGroupsWithActive returns every group that has an active-cached subscription.
	ListGroupsWithActive(ctx context.Context) ([]string, error)
}
