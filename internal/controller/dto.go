package controller

import (
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/cassiomorais/orderrecon/internal/providers"
	"github.com/cassiomorais/orderrecon/internal/service"
)

// --- Request DTOs ---
// Amounts travel in the currency's minor unit so JPY and USD need no float handling.

// LineItemRequest is one product line of a checkout.
type LineItemRequest struct {
	SKU       string `json:"sku" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=200"`
	Quantity  int    `json:"quantity" validate:"required,gt=0,lte=1000"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
}

// CreateOrderRequest holds the input for a checkout.
type CreateOrderRequest struct {
	Currency   string            `json:"currency" validate:"required,len=3,uppercase"`
	LineItems  []LineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	CouponCode string            `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
	Provider   string            `json:"provider,omitempty" validate:"omitempty,oneof=card qr_a qr_b deferred"`
}

// InitiatePaymentRequest selects the provider for a pending order.
type InitiatePaymentRequest struct {
	Provider string `json:"provider" validate:"required,oneof=card qr_a qr_b deferred"`
}

// CancelOrderRequest optionally pins the version the customer saw.
type CancelOrderRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty" validate:"omitempty,gt=0"`
}

// VerifyCodeRequest holds a step-up code.
type VerifyCodeRequest struct {
	Code string `json:"code" validate:"required,min=6,max=16,alphanum"`
}

// --- Response DTOs ---

// OrderResponse represents an order in API responses.
type OrderResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status,omitempty"`
	AmountMinor   int64             `json:"amount_minor"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	LineItems     []order.LineItem  `json:"line_items"`
	CouponCode    string            `json:"coupon_code,omitempty"`
	ExternalRefs  map[string]string `json:"external_refs,omitempty"`
	RemoteVoid    string            `json:"remote_void,omitempty"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PaymentHandleResponse tells the storefront how the customer completes payment.
type PaymentHandleResponse struct {
	Provider    string     `json:"provider"`
	ExternalID  string     `json:"external_id"`
	RedirectURL string     `json:"redirect_url,omitempty"`
	QRCode      string     `json:"qr_code,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// CheckoutResponse is returned by order creation and payment initiation.
type CheckoutResponse struct {
	Order   *OrderResponse         `json:"order"`
	Payment *PaymentHandleResponse `json:"payment,omitempty"`
	// PaymentError is set when the order was created but the provider refused
	// to start the payment. The order stays pending.
	PaymentError string `json:"payment_error,omitempty"`
}

// AccessResponse is the answer to an access check.
type AccessResponse struct {
	GroupID   string     `json:"group_id"`
	Active    bool       `json:"active"`
	Status    string     `json:"status,omitempty"`
	PeriodEnd *time.Time `json:"period_end,omitempty"`
}

// BillingResponse is the step-up protected subscription detail.
type BillingResponse struct {
	SubscriptionID         string    `json:"subscription_id"`
	GroupID                string    `json:"group_id"`
	Provider               string    `json:"provider"`
	ProviderSubscriptionID string    `json:"provider_subscription_id"`
	Status                 string    `json:"status"`
	CurrentPeriodEnd       time.Time `json:"current_period_end"`
	CancelAtPeriodEnd      bool      `json:"cancel_at_period_end"`
}

// StepUpVerifiedResponse confirms a verified code. The grant itself only
// travels in the cookie.
type StepUpVerifiedResponse struct {
	Verified  bool      `json:"verified"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WebhookResponse acknowledges a provider notification.
type WebhookResponse struct {
	Outcome string `json:"outcome"`
}

// OrderEventResponse is one entry of an order's audit trail.
type OrderEventResponse struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func toLineItems(items []LineItemRequest) []order.LineItem {
	out := make([]order.LineItem, len(items))
	for i, li := range items {
		out[i] = order.LineItem{SKU: li.SKU, Name: li.Name, Quantity: li.Quantity, UnitPrice: li.UnitPrice}
	}
	return out
}

// FromOrder converts a domain order to API response.
func FromOrder(o *order.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:            o.ID.String(),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		AmountMinor:   o.Amount.Minor,
		Amount:        o.Amount.Decimal().StringFixed(o.Amount.Exponent()),
		Currency:      o.Amount.Currency,
		LineItems:     o.LineItems,
		CouponCode:    o.CouponCode,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.RemoteVoid != order.RemoteVoidNone {
		resp.RemoteVoid = string(o.RemoteVoid)
	}
	if len(o.ExternalRefs) > 0 {
		resp.ExternalRefs = make(map[string]string, len(o.ExternalRefs))
		for p, id := range o.ExternalRefs {
			resp.ExternalRefs[string(p)] = id
		}
	}
	return resp
}

// FromEvents converts an audit trail to API response.
func FromEvents(events []*order.AuditEvent) []OrderEventResponse {
	out := make([]OrderEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, OrderEventResponse{Type: e.EventType, Data: e.EventData, CreatedAt: e.CreatedAt})
	}
	return out
}

// FromHandle converts a provider handle to API response.
func FromHandle(h *providers.Handle) *PaymentHandleResponse {
	if h == nil {
		return nil
	}
	resp := &PaymentHandleResponse{
		Provider:    string(h.Provider),
		ExternalID:  h.ExternalID,
		RedirectURL: h.RedirectURL,
		QRCode:      h.QRCode,
	}
	if !h.ExpiresAt.IsZero() {
		exp := h.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}

// FromAccess converts an access answer to API response.
func FromAccess(groupID string, a *service.Access) *AccessResponse {
	resp := &AccessResponse{GroupID: groupID, Active: a.Active}
	if a.Subscription != nil {
		resp.Status = string(a.Status)
		end := a.PeriodEnd
		resp.PeriodEnd = &end
	}
	return resp
}

// FromSubscription converts a subscription to the billing response.
func FromSubscription(s *subscription.Subscription) *BillingResponse {
	return &BillingResponse{
		SubscriptionID:         s.ID.String(),
		GroupID:                s.GroupID,
		Provider:               s.Provider,
		ProviderSubscriptionID: s.ProviderSubscriptionID,
		Status:                 string(s.CachedStatus),
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
	}
}
