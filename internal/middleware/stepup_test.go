package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/service"
	"github.com/stretchr/testify/assert"
)

type fakeVerifier struct {
	valid   string
	subject string
	session string
}

func (f fakeVerifier) ParseGrant(token, subjectID, sessionID string) (*service.Grant, error) {
	if token != f.valid || subjectID != f.subject || sessionID != f.session {
		return nil, domainErrors.ErrStepUpRequired
	}
	return &service.Grant{Token: token, SubjectID: subjectID, SessionID: sessionID}, nil
}

func TestRequireStepUp(t *testing.T) {
	verifier := fakeVerifier{valid: "grant-token", subject: "user-1", session: "sess-1"}
	claims := validClaims()

	tests := []struct {
		name       string
		authed     bool
		cookie     string
		wantStatus int
	}{
		{"valid grant", true, "grant-token", http.StatusOK},
		{"no cookie", true, "", http.StatusForbidden},
		{"bad grant", true, "forged", http.StatusForbidden},
		{"not authenticated", false, "grant-token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireStepUp(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/billing", nil)
			if tt.authed {
				req = req.WithContext(WithClaims(req.Context(), &claims))
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: StepUpCookie, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantStatus == http.StatusOK, called)
		})
	}
}

func TestRequireStepUp_OtherSession(t *testing.T) {
	verifier := fakeVerifier{valid: "grant-token", subject: "user-1", session: "sess-1"}
	claims := validClaims()
	claims.SessionID = "sess-2"

	handler := RequireStepUp(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/billing", nil)
	req = req.WithContext(WithClaims(req.Context(), &claims))
	req.AddCookie(&http.Cookie{Name: StepUpCookie, Value: "grant-token"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "step_up_required")
}
