package controller

import (
	"context"
	"net/http"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	customMW "github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/cassiomorais/orderrecon/internal/service"
	"github.com/go-chi/chi/v5"
)

// AccessChecker answers subscription reads.
type AccessChecker interface {
	CheckAccess(ctx context.Context, ownerID, groupID string) (*service.Access, error)
	Billing(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error)
}

type SubscriptionController struct {
	access AccessChecker
}

func NewSubscriptionController(access AccessChecker) *SubscriptionController {
	return &SubscriptionController{access: access}
}

// Access handles GET /api/v1/subscriptions/{groupID}/access
func (h *SubscriptionController) Access(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, r, domainErrors.ErrUnauthorized)
		return
	}
	groupID := chi.URLParam(r, "groupID")

	access, err := h.access.CheckAccess(r.Context(), ownerID, groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromAccess(groupID, access))
}

// Billing handles GET /api/v1/subscriptions/{groupID}/billing. The route
// sits behind RequireStepUp.
func (h *SubscriptionController) Billing(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, r, domainErrors.ErrUnauthorized)
		return
	}

	sub, err := h.access.Billing(r.Context(), ownerID, chi.URLParam(r, "groupID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FromSubscription(sub))
}
