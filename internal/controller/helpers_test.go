package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// renderError runs writeError and decodes what it wrote.
func renderError(t *testing.T, err error) (int, ErrorResponse, string) {
	t.Helper()
	w := httptest.NewRecorder()
	writeError(w, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil), err)

	var resp ErrorResponse
	raw := w.Body.String()
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	return w.Code, resp, raw
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, WebhookResponse{Outcome: "applied"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"outcome":"applied"}`, w.Body.String())
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", domainErrors.NewValidationError("currency", "len validation failed"), http.StatusBadRequest, "validation_error"},
		{"order not found", domainErrors.ErrOrderNotFound, http.StatusNotFound, "not_found"},
		{"subscription not found", domainErrors.ErrSubscriptionNotFound, http.StatusNotFound, "not_found"},
		{"unknown provider", fmt.Errorf("get adapter: %w", domainErrors.ErrProviderNotFound), http.StatusNotFound, "unknown_provider"},
		{"invalid signature", domainErrors.ErrSignatureInvalid, http.StatusUnauthorized, "invalid_signature"},
		{"duplicate idempotency key", domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
		{"stale transition", domainErrors.NewTransitionRejected("stale order", domainErrors.ErrOptimisticLockFailed), http.StatusConflict, "conflict"},
		{"illegal transition", domainErrors.NewTransitionRejected("paid -> pending", domainErrors.ErrInvalidStateTransition), http.StatusConflict, "invalid_state_transition"},
		{"not cancelable", domainErrors.ErrNotCancelable, http.StatusConflict, "not_cancelable"},
		{"provider unavailable", domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
		{"provider timeout", domainErrors.ErrProviderTimeout, http.StatusGatewayTimeout, "provider_timeout"},
		{"provider rejected", domainErrors.ErrProviderRejected, http.StatusUnprocessableEntity, "provider_rejected"},
		{"cooldown", domainErrors.ErrCooldown, http.StatusTooManyRequests, "too_many_requests"},
		{"rate limited", domainErrors.ErrRateLimited, http.StatusTooManyRequests, "too_many_requests"},
		{"binding missing", domainErrors.ErrBindingMissing, http.StatusBadRequest, "session_binding_required"},
		{"step-up required", domainErrors.ErrStepUpRequired, http.StatusForbidden, "step_up_required"},
		{"other domain error", domainErrors.NewDomainError("coupon_expired", "coupon has expired", nil), http.StatusUnprocessableEntity, "coupon_expired"},
		{"unexpected", errors.New("pq: connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp, _ := renderError(t, tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestWriteError_IssueRefusalsAreIndistinguishable(t *testing.T) {
	cooldownStatus, cooldown, _ := renderError(t, domainErrors.ErrCooldown)
	limitedStatus, limited, _ := renderError(t, domainErrors.ErrRateLimited)

	assert.Equal(t, cooldownStatus, limitedStatus)
	assert.Equal(t, cooldown, limited)
	assert.Equal(t, "too many requests, try again later", cooldown.Error)
}

func TestWriteError_HidesInternals(t *testing.T) {
	_, resp, _ := renderError(t, errors.New("pq: connection reset"))
	assert.Equal(t, "internal server error", resp.Error)

	_, resp, _ = renderError(t, domainErrors.ErrOptimisticLockFailed)
	assert.Equal(t, "concurrent modification, please retry", resp.Error)
}

func TestWriteError_CodeFailuresLookAlike(t *testing.T) {
	failures := []error{
		domainErrors.ErrCodeNotFound,
		domainErrors.ErrCodeExpired,
		domainErrors.ErrCodeExhausted,
		domainErrors.ErrCodeInvalid,
		domainErrors.ErrBindingMismatch,
	}

	var bodies []string
	for _, err := range failures {
		status, _, raw := renderError(t, err)
		assert.Equal(t, http.StatusUnauthorized, status)
		bodies = append(bodies, raw)
	}
	for _, body := range bodies[1:] {
		assert.JSONEq(t, bodies[0], body)
	}
	assert.JSONEq(t, `{"error":"invalid or expired code","code":"invalid_code"}`, bodies[0])
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
		wantMsg   string
	}{
		{name: "valid", body: `{"currency":"JPY","line_items":[{"sku":"tea","name":"Tea","quantity":1,"unit_price":500}]}`},
		{name: "malformed", body: `{"currency":`, wantField: "body", wantMsg: "invalid JSON"},
		{name: "empty body", body: ``, wantField: "body", wantMsg: "invalid JSON"},
		{name: "unknown field", body: `{"currency":"JPY","line_items":[],"amount":1}`, wantField: "body", wantMsg: "unknown field"},
		{name: "trailing data", body: `{"currency":"JPY","line_items":[{"sku":"a","name":"A","quantity":1}]} {}`, wantField: "body", wantMsg: "single JSON object"},
		{name: "json field name reported", body: `{"currency":"jpy","line_items":[{"sku":"a","name":"A","quantity":1}]}`, wantField: "currency", wantMsg: "uppercase"},
		{name: "nested item validated", body: `{"currency":"JPY","line_items":[{"sku":"a","name":"A","quantity":0}]}`, wantField: "quantity", wantMsg: "validation failed"},
		{name: "oversized", body: `{"currency":"JPY","coupon_code":"` + strings.Repeat("x", maxRequestBody) + `"}`, wantField: "body", wantMsg: "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(tt.body))

			var dst CreateOrderRequest
			err := decodeAndValidate(req, &dst)

			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "JPY", dst.Currency)
				return
			}
			var validationErr *domainErrors.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.wantField, validationErr.Field)
			assert.Contains(t, validationErr.Message, tt.wantMsg)
		})
	}
}
