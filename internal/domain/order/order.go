package order

import (
	"fmt"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the business status of an order.
type Status string

const (
	StatusPending          Status = "pending"
	StatusPendingProviderA Status = "pending_provider_a"
	StatusPendingProviderB Status = "pending_provider_b"
	StatusPendingDeferred  Status = "pending_deferred"
	StatusPaid             Status = "paid"
	StatusProcessing       Status = "processing"
	StatusShipped          Status = "shipped"
	StatusDelivered        Status = "delivered"
	StatusCanceled         Status = "canceled"
	StatusFailed           Status = "failed"
	StatusRefunded         Status = "refunded"
)

// PaymentStatus mirrors the provider's own vocabulary. It moves independently
// of Status; see legalPaymentStatuses for the allowed combinations.
type PaymentStatus string

const (
	PaymentNone       PaymentStatus = ""
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentExpired    PaymentStatus = "expired"
)

// Provider identifies an external payment provider.
type Provider string

const (
	ProviderCard     Provider = "card"
	ProviderQRA      Provider = "qr_a"
	ProviderQRB      Provider = "qr_b"
	ProviderDeferred Provider = "deferred"
	// ProviderLocal marks events originated by this service (user cancellation).
	ProviderLocal Provider = "local"
)

// RemoteVoid records the outcome of a provider-side void during cancellation.
type RemoteVoid string

const (
	RemoteVoidNone        RemoteVoid = "none"
	RemoteVoidConfirmed   RemoteVoid = "confirmed"
	RemoteVoidUnconfirmed RemoteVoid = "unconfirmed"
)

// rank places statuses on the main chain. Terminal side states have no rank.
var rank = map[Status]int{
	StatusPending:          0,
	StatusPendingProviderA: 1,
	StatusPendingProviderB: 1,
	StatusPendingDeferred:  1,
	StatusPaid:             2,
	StatusProcessing:       3,
	StatusShipped:          4,
	StatusDelivered:        5,
}

var legalPaymentStatuses = map[Status][]PaymentStatus{
	StatusPending:          {PaymentNone, PaymentAuthorized, PaymentFailed, PaymentExpired},
	StatusPendingProviderA: {PaymentNone, PaymentAuthorized, PaymentFailed, PaymentExpired},
	StatusPendingProviderB: {PaymentNone, PaymentAuthorized, PaymentFailed, PaymentExpired},
	StatusPendingDeferred:  {PaymentNone, PaymentAuthorized, PaymentFailed, PaymentExpired},
	StatusPaid:             {PaymentCaptured},
	StatusProcessing:       {PaymentCaptured},
	StatusShipped:          {PaymentCaptured},
	StatusDelivered:        {PaymentCaptured},
	StatusRefunded:         {PaymentRefunded},
	StatusFailed:           {PaymentNone, PaymentFailed, PaymentExpired},
	StatusCanceled: {
		PaymentNone, PaymentAuthorized, PaymentCaptured,
		PaymentFailed, PaymentRefunded, PaymentExpired,
	},
}

// IsPending reports whether s is pending or one of the provider-specific pending substates.
func (s Status) IsPending() bool {
	r, ok := rank[s]
	return ok && r <= 1
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusFailed || s == StatusRefunded
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := legalPaymentStatuses[s]
	return ok
}

// LegalCombination reports whether an order may rest in status s with payment status ps.
func LegalCombination(s Status, ps PaymentStatus) bool {
	for _, allowed := range legalPaymentStatuses[s] {
		if allowed == ps {
			return true
		}
	}
	return false
}

// CanTransition reports whether moving from `from` to `to` respects the status order.
// Same-state moves are not transitions and return false; callers treat them as no-ops.
func CanTransition(from, to Status) bool {
	if from == to || from.IsTerminal() || !to.Valid() {
		return false
	}

	switch to {
	case StatusCanceled, StatusFailed:
		return from != StatusDelivered
	case StatusRefunded:
		return rank[from] >= rank[StatusPaid]
	}

	fromRank, toRank := rank[from], rank[to]
	if fromRank == 1 && toRank == 1 {
		// provider switch between pending substates
		return true
	}
	if toRank >= rank[StatusProcessing] && fromRank < rank[StatusPaid] {
		return false
	}
	return toRank > fromRank
}

// LineItem is one purchased SKU.
type LineItem struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Total returns Quantity * UnitPrice in minor units.
func (li LineItem) Total() int64 {
	return int64(li.Quantity) * li.UnitPrice
}

// Order is the authoritative record a payment converges on.
type Order struct {
	ID             uuid.UUID
	IdempotencyKey string
	CustomerID     string
	CustomerEmail  string
	ExternalRefs   map[Provider]string
	Status         Status
	PaymentStatus  PaymentStatus
	Amount         Amount
	LineItems      []LineItem
	CouponCode     string
	RemoteVoid     RemoteVoid
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Amount is a monetary amount in the currency's minor unit.
type Amount struct {
	Minor    int64
	Currency string
}

// currencyExponent lists currencies whose minor unit is not 1/100.
var currencyExponent = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
}

// Exponent returns the number of decimal places of the currency's minor unit.
func (a Amount) Exponent() int32 {
	if e, ok := currencyExponent[a.Currency]; ok {
		return e
	}
	return 2
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.Minor, -a.Exponent())
}

// String returns a human-readable representation of the amount.
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Decimal().StringFixed(a.Exponent()), a.Currency)
}

// Validate checks that the amount is valid.
func (a Amount) Validate() error {
	if a.Minor <= 0 {
		return errors.NewValidationError("amount", "must be greater than 0")
	}
	if len(a.Currency) != 3 {
		return errors.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return nil
}

// NewOrder creates a pending order whose amount is the sum of its line items.
func NewOrder(idempotencyKey, customerID, email, currency string, items []LineItem) (*Order, error) {
	if idempotencyKey == "" {
		return nil, errors.ErrInvalidInput
	}
	if len(items) == 0 {
		return nil, errors.NewValidationError("line_items", "at least one item is required")
	}

	var total int64
	for _, li := range items {
		if li.Quantity <= 0 || li.UnitPrice < 0 {
			return nil, errors.NewValidationError("line_items", "quantity and unit price must be positive")
		}
		total += li.Total()
	}
	amount := Amount{Minor: total, Currency: currency}
	if err := amount.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Order{
		ID:             uuid.New(),
		IdempotencyKey: idempotencyKey,
		CustomerID:     customerID,
		CustomerEmail:  email,
		ExternalRefs:   make(map[Provider]string),
		Status:         StatusPending,
		PaymentStatus:  PaymentNone,
		Amount:         amount,
		LineItems:      items,
		RemoteVoid:     RemoteVoidNone,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ExternalRef returns the provider's id for this order, if one was recorded.
func (o *Order) ExternalRef(p Provider) (string, bool) {
	id, ok := o.ExternalRefs[p]
	return id, ok && id != ""
}

// ActiveProvider returns the provider whose pending substate the order is in.
func (o *Order) ActiveProvider() (Provider, bool) {
	switch o.Status {
	case StatusPendingProviderA:
		return ProviderQRA, true
	case StatusPendingProviderB:
		return ProviderQRB, true
	case StatusPendingDeferred:
		return ProviderDeferred, true
	}
	if o.PaymentStatus == PaymentAuthorized {
		if _, ok := o.ExternalRef(ProviderCard); ok {
			return ProviderCard, true
		}
	}
	return "", false
}

// HasOutstandingAuthorization reports whether cancelling must first void at a provider.
func (o *Order) HasOutstandingAuthorization() bool {
	_, ok := o.ActiveProvider()
	return ok
}

// Outcome describes what Transition did.
type Outcome int

const (
	// OutcomeNoop means the event re-applied the current state.
	OutcomeNoop Outcome = iota
	// OutcomeApplied means status or payment status changed.
	OutcomeApplied
)

// Transition applies ev to the order in memory. It never touches Version;
// the repository bumps it on a successful conditional write.
func (o *Order) Transition(ev Event, now time.Time) (Outcome, error) {
	target, err := ev.TargetStatus()
	if err != nil {
		return OutcomeNoop, err
	}
	paymentStatus := ev.PaymentStatus
	if paymentStatus == PaymentNone {
		// events without a payment status keep the current one where it stays legal
		paymentStatus = o.PaymentStatus
		if !LegalCombination(target, paymentStatus) {
			paymentStatus = PaymentNone
		}
	}

	if target == o.Status && paymentStatus == o.PaymentStatus {
		return OutcomeNoop, nil
	}

	if target != o.Status && !CanTransition(o.Status, target) {
		return OutcomeNoop, errors.NewTransitionRejected(
			fmt.Sprintf("cannot transition from %s to %s", o.Status, target),
			errors.ErrInvalidStateTransition,
		)
	}
	if target == o.Status && o.Status.IsTerminal() {
		return OutcomeNoop, errors.NewTransitionRejected(
			fmt.Sprintf("order is terminal in %s", o.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	if !LegalCombination(target, paymentStatus) {
		return OutcomeNoop, errors.NewTransitionRejected(
			fmt.Sprintf("status %s cannot carry payment status %q", target, paymentStatus),
			errors.ErrIllegalPaymentStatus,
		)
	}

	o.Status = target
	o.PaymentStatus = paymentStatus
	o.recordRef(ev)
	o.UpdatedAt = now.UTC()
	return OutcomeApplied, nil
}

func (o *Order) recordRef(ev Event) {
	if ev.ExternalID == "" || ev.Provider == ProviderLocal || ev.Provider == "" {
		return
	}
	if o.ExternalRefs == nil {
		o.ExternalRefs = make(map[Provider]string)
	}
	o.ExternalRefs[ev.Provider] = ev.ExternalID
}
