package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	claimsKey contextKey = "claims"
)

// Claims is the session token issued by the storefront. SessionID and
// FingerprintHash bind step-up codes to the session that requested them.
type Claims struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	SessionID       string `json:"sid"`
	FingerprintHash string `json:"fp"`
	jwt.RegisteredClaims
}

// Subject returns the user id, falling back to the standard sub claim.
func (c *Claims) Subject() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing authorization header", "auth_required")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid || claims.Subject() == "" {
				writeAuthError(w, "invalid token", "auth_invalid")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject())
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetClaims returns the verified session claims.
func GetClaims(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// GetSessionBinding returns the session binding of the caller. It is empty
// when the token carried neither a session id nor a fingerprint.
func GetSessionBinding(ctx context.Context) accesscode.Binding {
	c, ok := GetClaims(ctx)
	if !ok {
		return accesscode.Binding{}
	}
	return accesscode.Binding{SessionID: c.SessionID, FingerprintHash: c.FingerprintHash}
}

// SessionEmail returns the email of the authenticated caller. It resolves
// step-up code recipients from the request that asked for the code.
func SessionEmail(ctx context.Context, subjectID string) (string, error) {
	c, ok := GetClaims(ctx)
	if !ok || c.Subject() != subjectID || c.Email == "" {
		return "", fmt.Errorf("no email in session for %s", subjectID)
	}
	return c.Email, nil
}

// WithClaims stores claims in ctx the way RequireAuth does.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, c.Subject())
	return context.WithValue(ctx, claimsKey, c)
}

func writeAuthError(w http.ResponseWriter, msg, code string) {
	writeMiddlewareError(w, http.StatusUnauthorized, msg, code)
}

func writeMiddlewareError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
