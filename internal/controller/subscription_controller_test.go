package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/cassiomorais/orderrecon/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionController_Access(t *testing.T) {
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		access     *service.Access
		wantActive bool
		wantStatus string
	}{
		{
			name:       "active",
			access:     &service.Access{Active: true, Status: subscription.StatusActive, PeriodEnd: end, Subscription: &subscription.Subscription{}},
			wantActive: true,
			wantStatus: "active",
		},
		{
			name:       "healed to expired",
			access:     &service.Access{Active: false, Status: subscription.StatusExpired, PeriodEnd: end, Subscription: &subscription.Subscription{}},
			wantStatus: "expired",
		},
		{name: "no subscription", access: &service.Access{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubAccess{
				CheckAccessFunc: func(ctx context.Context, ownerID, groupID string) (*service.Access, error) {
					assert.Equal(t, "cust-1", ownerID)
					assert.Equal(t, "grp-1", groupID)
					return tt.access, nil
				},
			}
			req := withURLParams(authed(httptest.NewRequest(http.MethodGet, "/", nil)), map[string]string{"groupID": "grp-1"})
			w := httptest.NewRecorder()

			NewSubscriptionController(stub).Access(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			var resp AccessResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantActive, resp.Active)
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestSubscriptionController_Billing(t *testing.T) {
	sub := &subscription.Subscription{
		ID: uuid.New(), OwnerID: "cust-1", GroupID: "grp-1", Provider: "card",
		ProviderSubscriptionID: "sub_1", CachedStatus: subscription.StatusActive,
		CurrentPeriodEnd: time.Now().Add(24 * time.Hour),
	}
	stub := &stubAccess{
		BillingFunc: func(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error) {
			if groupID != "grp-1" {
				return nil, domainErrors.ErrSubscriptionNotFound
			}
			return sub, nil
		},
	}
	h := NewSubscriptionController(stub)

	w := httptest.NewRecorder()
	h.Billing(w, withURLParams(authed(httptest.NewRequest(http.MethodGet, "/", nil)), map[string]string{"groupID": "grp-1"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"provider_subscription_id":"sub_1"`)

	w = httptest.NewRecorder()
	h.Billing(w, withURLParams(authed(httptest.NewRequest(http.MethodGet, "/", nil)), map[string]string{"groupID": "grp-2"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
