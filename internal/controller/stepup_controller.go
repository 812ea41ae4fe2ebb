package controller

import (
	"context"
	"errors"
	"net/http"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	customMW "github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/cassiomorais/orderrecon/internal/service"
)

// StepUpService issues and verifies one-time access codes.
type StepUpService interface {
	Issue(ctx context.Context, subjectID string, binding accesscode.Binding) (string, error)
	Verify(ctx context.Context, subjectID, candidate string, binding accesscode.Binding) (*service.Grant, error)
}

// StepUpController handles the step-up code flow.
type StepUpController struct {
	stepUp     StepUpService
	cookiePath string
}

func NewStepUpController(stepUp StepUpService, cookiePath string) *StepUpController {
	if cookiePath == "" {
		cookiePath = "/"
	}
	return &StepUpController{stepUp: stepUp, cookiePath: cookiePath}
}

// Issue handles POST /api/v1/step-up/issue. The code goes out of band only;
// the response carries nothing about it. A cooldown or rate-limit refusal
// answers exactly like a sent code.
func (h *StepUpController) Issue(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, r, domainErrors.ErrUnauthorized)
		return
	}

	_, err := h.stepUp.Issue(r.Context(), subjectID, customMW.GetSessionBinding(r.Context()))
	if err != nil && !errors.Is(err, domainErrors.ErrCooldown) && !errors.Is(err, domainErrors.ErrRateLimited) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// Verify handles POST /api/v1/step-up/verify and stores the grant in an
// HTTP-only cookie.
func (h *StepUpController) Verify(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := customMW.GetUserID(r.Context())
	if !ok {
		writeError(w, r, domainErrors.ErrUnauthorized)
		return
	}

	var req VerifyCodeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	grant, err := h.stepUp.Verify(r.Context(), subjectID, req.Code, customMW.GetSessionBinding(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     customMW.StepUpCookie,
		Value:    grant.Token,
		Path:     h.cookiePath,
		Expires:  grant.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, StepUpVerifiedResponse{Verified: true, ExpiresAt: grant.ExpiresAt})
}
