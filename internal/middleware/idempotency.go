package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const maxIdempotencyBodySize = 1 << 20

// CachedResponse is a stored response replayed for a repeated Idempotency-Key.
// Fingerprint is the SHA-256 of the request body that produced it.
type CachedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ResponseCache stores responses by key.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
}

// Idempotency replays the stored checkout response for a repeated
// Idempotency-Key. Keys are scoped to the caller, and a key reused with a
// different body is refused instead of replaying an unrelated order.
func Idempotency(cache ResponseCache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, _ := GetUserID(r.Context())
			cacheKey := "http:" + userID + ":" + r.Method + ":" + r.URL.Path + ":" + key

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize))
			if err != nil {
				writeMiddlewareError(w, http.StatusBadRequest, "unreadable body", "invalid_body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := fingerprintOf(body)

			entry, err := cache.Get(r.Context(), cacheKey)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Idempotency cache unavailable, processing request")
			}
			if err == nil && entry != nil {
				if entry.Fingerprint != "" && entry.Fingerprint != fingerprint {
					writeMiddlewareError(w, http.StatusUnprocessableEntity,
						"Idempotency-Key was already used with a different request", "idempotency_key_reused")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(entry.Status)
				w.Write([]byte(entry.Body))
				return
			}

			captured := &cappedBuffer{limit: maxIdempotencyBodySize}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if !cacheable(status) || captured.overflow {
				return
			}
			resp := &CachedResponse{Status: status, Body: captured.String(), Fingerprint: fingerprint}
			if err := cache.Set(context.WithoutCancel(r.Context()), cacheKey, resp, ttl); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Failed to cache idempotent response")
			}
		})
	}
}

// cacheable excludes server errors and rate limiting, which a retry may get past.
func cacheable(status int) bool {
	return status >= 200 && status < 500 && status != http.StatusTooManyRequests
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// cappedBuffer keeps at most limit bytes and notes when more were written.
type cappedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.overflow || b.Len()+len(p) > b.limit {
		b.overflow = true
		b.Reset()
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
