package controller

import (
	"context"
	"net/http"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	customMW "github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/cassiomorais/orderrecon/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OrderService is the checkout surface the controller needs.
type OrderService interface {
	Checkout(ctx context.Context, req service.CheckoutRequest) (*service.CheckoutResult, error)
	InitiatePayment(ctx context.Context, orderID uuid.UUID, customerID string, provider order.Provider) (*service.InitiateResult, error)
	Cancel(ctx context.Context, orderID uuid.UUID, customerID string, expectedVersion *int64) (*order.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, customerID string) (*order.Order, error)
	History(ctx context.Context, orderID uuid.UUID, customerID string) ([]*order.AuditEvent, error)
}

// OrderRefresher merges a fresh provider lookup into an order.
type OrderRefresher interface {
	Refresh(ctx context.Context, o *order.Order) (*order.Order, error)
}

// OrderController handles order-related HTTP requests.
type OrderController struct {
	orders    OrderService
	refresher OrderRefresher
	logger    zerolog.Logger
}

// NewOrderController creates a new OrderController.
func NewOrderController(orders OrderService, refresher OrderRefresher, logger zerolog.Logger) *OrderController {
	return &OrderController{orders: orders, refresher: refresher, logger: logger}
}

// Create handles POST /api/v1/orders
func (h *OrderController) Create(w http.ResponseWriter, r *http.Request) {
	customerID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, r, domainErrors.ErrUnauthorized)
		return
	}
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		writeError(w, r, domainErrors.NewValidationError("Idempotency-Key", "header is required"))
		return
	}

	var req CreateOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var email string
	if claims, ok := customMW.GetClaims(r.Context()); ok {
		email = claims.Email
	}

	result, err := h.orders.Checkout(r.Context(), service.CheckoutRequest{
		IdempotencyKey: idempotencyKey,
		CustomerID:     customerID,
		CustomerEmail:  email,
		Currency:       req.Currency,
		LineItems:      toLineItems(req.LineItems),
		CouponCode:     req.CouponCode,
		Provider:       order.Provider(req.Provider),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := CheckoutResponse{Order: FromOrder(result.Order), Payment: FromHandle(result.Handle)}
	if result.PaymentErr != nil {
		resp.PaymentError = result.PaymentErr.Error()
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// Get handles GET /api/v1/orders/{id}. With refresh=true the active
// provider is asked for the current state before answering.
func (h *OrderController) Get(w http.ResponseWriter, r *http.Request) {
	customerID, orderID, ok := h.orderParams(w, r)
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(r.Context(), orderID, customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("refresh") == "true" {
		refreshed, err := h.refresher.Refresh(r.Context(), o)
		if err != nil {
			// the stored state is still correct, only possibly behind
			h.logger.Warn().Err(err).Str("order_id", o.ID.String()).Msg("Order refresh failed")
		} else {
			o = refreshed
		}
	}

	writeJSON(w, http.StatusOK, FromOrder(o))
}

// Events handles GET /api/v1/orders/{id}/events
func (h *OrderController) Events(w http.ResponseWriter, r *http.Request) {
	customerID, orderID, ok := h.orderParams(w, r)
	if !ok {
		return
	}

	events, err := h.orders.History(r.Context(), orderID, customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FromEvents(events))
}

// InitiatePayment handles POST /api/v1/orders/{id}/payments
func (h *OrderController) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	customerID, orderID, ok := h.orderParams(w, r)
	if !ok {
		return
	}

	var req InitiatePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.orders.InitiatePayment(r.Context(), orderID, customerID, order.Provider(req.Provider))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CheckoutResponse{Order: FromOrder(result.Order), Payment: FromHandle(result.Handle)})
}

// Cancel handles POST /api/v1/orders/{id}/cancel
func (h *OrderController) Cancel(w http.ResponseWriter, r *http.Request) {
	customerID, orderID, ok := h.orderParams(w, r)
	if !ok {
		return
	}

	var req CancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	o, err := h.orders.Cancel(r.Context(), orderID, customerID, req.ExpectedVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, FromOrder(o))
}

func (h *OrderController) orderParams(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	customerID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, r, domainErrors.ErrUnauthorized)
		return "", uuid.Nil, false
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid order ID", Code: "invalid_id"})
		return "", uuid.Nil, false
	}
	return customerID, orderID, true
}
