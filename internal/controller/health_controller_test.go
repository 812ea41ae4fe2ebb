package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBreakers map[order.Provider]gobreaker.State

func (s stubBreakers) Names() []order.Provider {
	names := make([]order.Provider, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

func (s stubBreakers) BreakerState(name order.Provider) (gobreaker.State, bool) {
	state, ok := s[name]
	return state, ok
}

func okCheck(name string) HealthCheck {
	return HealthCheck{Name: name, Check: func(context.Context) error { return nil }}
}

func readiness(t *testing.T, h *HealthController) (int, readinessResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var resp readinessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w.Code, resp
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name          string
		checks        []HealthCheck
		breakers      BreakerReporter
		wantStatus    int
		wantReady     string
		wantChecks    map[string]string
		wantProviders map[string]string
	}{
		{
			name:       "all dependencies up",
			checks:     []HealthCheck{okCheck("database"), okCheck("redis")},
			wantStatus: http.StatusOK,
			wantReady:  "ready",
			wantChecks: map[string]string{"database": "ok", "redis": "ok"},
		},
		{
			name: "database down",
			checks: []HealthCheck{
				{Name: "database", Check: func(context.Context) error { return errors.New("refused") }},
				okCheck("redis"),
			},
			wantStatus: http.StatusServiceUnavailable,
			wantReady:  "not ready",
			wantChecks: map[string]string{"database": "unavailable", "redis": "ok"},
		},
		{
			name:   "open breaker is reported but stays ready",
			checks: []HealthCheck{okCheck("database")},
			breakers: stubBreakers{
				order.ProviderCard: gobreaker.StateClosed,
				order.ProviderQRA:  gobreaker.StateOpen,
			},
			wantStatus:    http.StatusOK,
			wantReady:     "ready",
			wantChecks:    map[string]string{"database": "ok"},
			wantProviders: map[string]string{"card": "closed", "qr_a": "open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := readiness(t, NewHealthController(tt.breakers, tt.checks...))

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantReady, resp.Status)
			assert.Equal(t, tt.wantChecks, resp.Checks)
			if tt.wantProviders != nil {
				assert.Equal(t, tt.wantProviders, resp.Providers)
			} else {
				assert.Empty(t, resp.Providers)
			}
		})
	}
}

func TestLiveness(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthController(nil).Liveness(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())
}
