package controller

import (
	"context"
	"net/http"
	"net/url"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	customMW "github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/cassiomorais/orderrecon/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type stubOrders struct {
	CheckoutFunc        func(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	InitiatePaymentFunc func(ctx context.Context, orderID uuid.UUID, customerID string, provider order.Provider) (*service.InitiateResult, error)
	CancelFunc          func(ctx context.Context, orderID uuid.UUID, customerID string, expectedVersion *int64) (*order.Order, error)
	GetOrderFunc        func(ctx context.Context, orderID uuid.UUID, customerID string) (*order.Order, error)
	HistoryFunc         func(ctx context.Context, orderID uuid.UUID, customerID string) ([]*order.AuditEvent, error)
	RefreshFunc         func(ctx context.Context, o *order.Order) (*order.Order, error)
}

func (s *stubOrders) Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error) {
	return s.CheckoutFunc(ctx, req)
}

func (s *stubOrders) InitiatePayment(ctx context.Context, orderID uuid.UUID, customerID string, provider order.Provider) (*service.InitiateResult, error) {
	return s.InitiatePaymentFunc(ctx, orderID, customerID, provider)
}

func (s *stubOrders) Cancel(ctx context.Context, orderID uuid.UUID, customerID string, expectedVersion *int64) (*order.Order, error) {
	return s.CancelFunc(ctx, orderID, customerID, expectedVersion)
}

func (s *stubOrders) GetOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*order.Order, error) {
	return s.GetOrderFunc(ctx, orderID, customerID)
}

func (s *stubOrders) History(ctx context.Context, orderID uuid.UUID, customerID string) ([]*order.AuditEvent, error) {
	return s.HistoryFunc(ctx, orderID, customerID)
}

func (s *stubOrders) Refresh(ctx context.Context, o *order.Order) (*order.Order, error) {
	if s.RefreshFunc == nil {
		return o, nil
	}
	return s.RefreshFunc(ctx, o)
}

type stubWebhooks struct {
	HandleWebhookFunc          func(ctx context.Context, provider order.Provider, raw []byte, signature string) (*service.WebhookResult, error)
	HandleDeferredCallbackFunc func(ctx context.Context, query url.Values) (*service.WebhookResult, error)
}

func (s *stubWebhooks) HandleWebhook(ctx context.Context, provider order.Provider, raw []byte, signature string) (*service.WebhookResult, error) {
	return s.HandleWebhookFunc(ctx, provider, raw, signature)
}

func (s *stubWebhooks) HandleDeferredCallback(ctx context.Context, query url.Values) (*service.WebhookResult, error) {
	return s.HandleDeferredCallbackFunc(ctx, query)
}

type stubStepUp struct {
	IssueFunc  func(ctx context.Context, subjectID string, binding accesscode.Binding) (string, error)
	VerifyFunc func(ctx context.Context, subjectID, candidate string, binding accesscode.Binding) (*service.Grant, error)
}

func (s *stubStepUp) Issue(ctx context.Context, subjectID string, binding accesscode.Binding) (string, error) {
	return s.IssueFunc(ctx, subjectID, binding)
}

func (s *stubStepUp) Verify(ctx context.Context, subjectID, candidate string, binding accesscode.Binding) (*service.Grant, error) {
	return s.VerifyFunc(ctx, subjectID, candidate, binding)
}

type stubAccess struct {
	CheckAccessFunc func(ctx context.Context, ownerID, groupID string) (*service.Access, error)
	BillingFunc     func(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error)
}

func (s *stubAccess) CheckAccess(ctx context.Context, ownerID, groupID string) (*service.Access, error) {
	return s.CheckAccessFunc(ctx, ownerID, groupID)
}

func (s *stubAccess) Billing(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error) {
	return s.BillingFunc(ctx, ownerID, groupID)
}

var testClaims = customMW.Claims{
	UserID:          "cust-1",
	Email:           "cust@example.com",
	SessionID:       "sess-1",
	FingerprintHash: "fp-1",
}

// authed attaches session claims the way RequireAuth would.
func authed(r *http.Request) *http.Request {
	c := testClaims
	return r.WithContext(customMW.WithClaims(r.Context(), &c))
}

// withURLParams sets chi route parameters on a request served without a router.
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func testOrder() *order.Order {
	o, err := order.NewOrder("idem-1", "cust-1", "cust@example.com", "JPY",
		[]order.LineItem{{SKU: "tea", Name: "Tea", Quantity: 2, UnitPrice: 2500}})
	if err != nil {
		panic(err)
	}
	return o
}
