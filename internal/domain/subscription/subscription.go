package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Status is the provider-reported subscription status cached locally.
type Status string

const (
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusExpired    Status = "expired"
	StatusIncomplete Status = "incomplete"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCanceled, StatusExpired, StatusIncomplete:
		return true
	}
	return false
}

// Subscription is a member's paid access to a group. Rows are never deleted;
// ending a subscription changes CachedStatus.
type Subscription struct {
	ID                     uuid.UUID
	OwnerID                string
	GroupID                string
	Provider               string
	ProviderSubscriptionID string
	CachedStatus           Status
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// NewFromBilling starts an incomplete subscription for a provider
// subscription seen for the first time. Applying the billing event that
// announced it makes it active.
func NewFromBilling(e BillingEvent, now time.Time) *Subscription {
	return &Subscription{
		ID:                     uuid.New(),
		OwnerID:                e.OwnerID,
		GroupID:                e.GroupID,
		Provider:               e.Provider,
		ProviderSubscriptionID: e.ProviderSubscriptionID,
		CachedStatus:           StatusIncomplete,
		CreatedAt:              now.UTC(),
		UpdatedAt:              now.UTC(),
	}
}

// CanCreate reports whether e carries enough to create a subscription.
// Only a renewal does: a first past-due or cancel has nothing to grant.
func (e BillingEvent) CanCreate() bool {
	return e.Kind == BillingRenewed && e.OwnerID != "" && e.GroupID != ""
}

// IsEffectivelyActive reports whether the subscription grants access at now.
// The cached flag alone is not trusted: the billing period must also be open.
func (s *Subscription) IsEffectivelyActive(now time.Time) bool {
	return s.CachedStatus == StatusActive && now.Before(s.CurrentPeriodEnd)
}

// Reconcile returns a copy with CachedStatus downgraded to expired when the
// cached flag is active but the period has ended. It never upgrades.
func (s *Subscription) Reconcile(now time.Time) (*Subscription, bool) {
	if s.CachedStatus != StatusActive || now.Before(s.CurrentPeriodEnd) {
		return s, false
	}
	next := *s
	next.CachedStatus = StatusExpired
	next.UpdatedAt = now.UTC()
	return &next, true
}

// BillingEventKind is a provider billing notification for a subscription.
type BillingEventKind string

const (
	BillingRenewed  BillingEventKind = "renewed"
	BillingPastDue  BillingEventKind = "past_due"
	BillingCanceled BillingEventKind = "canceled"
)

// BillingEvent is the provider-independent form of a subscription billing webhook.
type BillingEvent struct {
	Kind                   BillingEventKind
	Provider               string
	ProviderSubscriptionID string
	// OwnerID and GroupID come from the provider's subscription metadata and
	// are only needed to create a subscription seen for the first time.
	OwnerID           string
	GroupID           string
	EventID           string
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
	OccurredAt        time.Time
}

// IdempotencyKey identifies the billing event across redeliveries.
func (e BillingEvent) IdempotencyKey() string {
	ref := e.EventID
	if ref == "" {
		ref = e.PeriodEnd.UTC().Format(time.RFC3339)
	}
	return e.Provider + ":" + e.ProviderSubscriptionID + ":" + string(e.Kind) + ":" + ref
}

// Apply folds a billing event into the subscription. It returns false when
// the event is older than what is stored and must be ignored. Renewal is the
// only path back to active.
func (s *Subscription) Apply(e BillingEvent, now time.Time) bool {
	if !e.PeriodEnd.IsZero() && e.PeriodEnd.Before(s.CurrentPeriodEnd) {
		return false
	}
	switch e.Kind {
	case BillingRenewed:
		if !now.Before(e.PeriodEnd) {
			return false
		}
		s.CachedStatus = StatusActive
		s.CurrentPeriodEnd = e.PeriodEnd
		s.CancelAtPeriodEnd = e.CancelAtPeriodEnd
	case BillingPastDue:
		s.CachedStatus = StatusPastDue
		if !e.PeriodEnd.IsZero() {
			s.CurrentPeriodEnd = e.PeriodEnd
		}
	case BillingCanceled:
		if e.CancelAtPeriodEnd && now.Before(s.CurrentPeriodEnd) {
			// access continues until the paid period ends; the sweep expires it
			s.CancelAtPeriodEnd = true
		} else {
			s.CachedStatus = StatusCanceled
		}
	default:
		return false
	}
	s.UpdatedAt = now.UTC()
	return true
}
