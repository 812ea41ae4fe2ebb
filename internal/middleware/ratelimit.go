package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// RateLimit limits requests per key within window. Without key funcs it
// limits per client IP.
func RateLimit(requests int, window time.Duration, keys ...httprate.KeyFunc) func(http.Handler) http.Handler {
	if len(keys) == 0 {
		keys = []httprate.KeyFunc{httprate.KeyByIP}
	}
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(keys...),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeMiddlewareError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
		}),
	)
}

// KeyByProvider buckets webhook traffic per provider route so a burst from
// one provider cannot exhaust another's allowance.
func KeyByProvider(r *http.Request) (string, error) {
	if p := chi.URLParam(r, "provider"); p != "" {
		return p, nil
	}
	return r.URL.Path, nil
}
