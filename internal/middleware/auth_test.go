package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-0123"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		UserID:          "user-1",
		Email:           "user@example.com",
		SessionID:       "sess-1",
		FingerprintHash: "fp-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestRequireAuth(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	subOnly := validClaims()
	subOnly.UserID = ""
	subOnly.RegisteredClaims.Subject = "user-from-sub"
	anonymous := validClaims()
	anonymous.UserID = ""

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"valid token", "Bearer " + signToken(t, testSecret, validClaims()), http.StatusOK, "user-1"},
		{"subject fallback", "Bearer " + signToken(t, testSecret, subOnly), http.StatusOK, "user-from-sub"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + signToken(t, "another-secret-that-is-long-enough", validClaims()), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, testSecret, expired), http.StatusUnauthorized, ""},
		{"no subject", "Bearer " + signToken(t, testSecret, anonymous), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			var gotBinding accesscode.Binding
			handler := RequireAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = GetUserID(r.Context())
				gotBinding = GetSessionBinding(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, accesscode.Binding{SessionID: "sess-1", FingerprintHash: "fp-1"}, gotBinding)
			}
		})
	}
}

func TestGetSessionBinding_NoClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	assert.True(t, GetSessionBinding(req.Context()).Empty())
}

func TestSessionEmail(t *testing.T) {
	c := validClaims()
	ctx := WithClaims(httptest.NewRequest(http.MethodGet, "/", nil).Context(), &c)

	email, err := SessionEmail(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)

	_, err = SessionEmail(ctx, "user-2")
	assert.Error(t, err)

	_, err = SessionEmail(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "user-1")
	assert.Error(t, err)
}
