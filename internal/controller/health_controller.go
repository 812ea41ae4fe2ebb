package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/sony/gobreaker/v2"
)

const readinessTimeout = 2 * time.Second

// HealthCheck probes one dependency for readiness.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// BreakerReporter exposes the provider circuit breakers.
type BreakerReporter interface {
	Names() []order.Provider
	BreakerState(name order.Provider) (gobreaker.State, bool)
}

type HealthController struct {
	checks   []HealthCheck
	breakers BreakerReporter
}

func NewHealthController(breakers BreakerReporter, checks ...HealthCheck) *HealthController {
	return &HealthController{checks: checks, breakers: breakers}
}

type readinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Providers map[string]string `json:"providers,omitempty"`
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness fails only on storage. An open provider breaker is reported but
// the instance stays ready: webhooks and polls for other providers still work.
func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	resp := readinessResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	status := http.StatusOK
	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			resp.Checks[c.Name] = "unavailable"
			resp.Status = "not ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}

	if h.breakers != nil {
		resp.Providers = make(map[string]string)
		for _, name := range h.breakers.Names() {
			if state, ok := h.breakers.BreakerState(name); ok {
				resp.Providers[string(name)] = state.String()
			}
		}
	}

	writeJSON(w, status, resp)
}
