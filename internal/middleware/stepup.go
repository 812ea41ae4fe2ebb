package middleware

import (
	"net/http"

	"github.com/cassiomorais/orderrecon/internal/service"
)

// StepUpCookie holds the grant issued after a successful code verification.
const StepUpCookie = "stepup_grant"

// GrantVerifier validates step-up grants.
type GrantVerifier interface {
	ParseGrant(token, subjectID, sessionID string) (*service.Grant, error)
}

// RequireStepUp admits requests carrying a valid grant for the caller's
// subject and session. It must run after RequireAuth.
func RequireStepUp(verifier GrantVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok {
				writeAuthError(w, "missing session", "auth_required")
				return
			}
			cookie, err := r.Cookie(StepUpCookie)
			if err != nil || cookie.Value == "" {
				writeMiddlewareError(w, http.StatusForbidden, "step-up verification required", "step_up_required")
				return
			}
			if _, err := verifier.ParseGrant(cookie.Value, claims.Subject(), claims.SessionID); err != nil {
				writeMiddlewareError(w, http.StatusForbidden, "step-up verification required", "step_up_required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
