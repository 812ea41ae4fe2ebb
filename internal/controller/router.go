package controller

import (
	"context"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/config"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	Pool          *pgxpool.Pool
	RedisClient   *redis.Client
	Orders        OrderService
	Refresher     OrderRefresher
	Webhooks      WebhookHandler
	Subscriptions AccessChecker
	StepUp        StepUpService
	Grants        customMW.GrantVerifier
	ResponseCache customMW.ResponseCache
	Breakers      BreakerReporter
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	Config        *config.Config
}

func NewRouter(deps RouterDeps) *chi.Mux {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"X-Idempotency-Replayed"},
		AllowCredentials: cfg.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Breakers, healthChecks(deps)...)
	webhookH := NewWebhookController(deps.Webhooks, signatureHeaders(cfg.Providers), cfg.Server.StorefrontURL)
	orderH := NewOrderController(deps.Orders, deps.Refresher, deps.Logger)
	stepUpH := NewStepUpController(deps.StepUp, "/api/v1")
	subscriptionH := NewSubscriptionController(deps.Subscriptions)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Provider-facing endpoints authenticate by signature, not session.
	r.Group(func(r chi.Router) {
		r.Use(customMW.RateLimit(cfg.Server.WebhookRateLimit, time.Minute, httprate.KeyByIP, customMW.KeyByProvider))
		r.Post("/webhooks/{provider}", webhookH.Receive)
		r.Get(cfg.Webhook.CallbackPath, webhookH.DeferredCallback)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.RequireAuth(cfg.Auth.JWTSecret))

		// Orders
		r.With(customMW.Idempotency(deps.ResponseCache, cfg.Idempotency.RequestTTL)).Post("/orders", orderH.Create)
		r.Get("/orders/{id}", orderH.Get)
		r.Get("/orders/{id}/events", orderH.Events)
		r.Post("/orders/{id}/payments", orderH.InitiatePayment)
		r.Post("/orders/{id}/cancel", orderH.Cancel)

		// Step-up
		r.Post("/step-up/issue", stepUpH.Issue)
		r.Post("/step-up/verify", stepUpH.Verify)

		// Subscriptions
		r.Get("/subscriptions/{groupID}/access", subscriptionH.Access)
		r.With(customMW.RequireStepUp(deps.Grants)).Get("/subscriptions/{groupID}/billing", subscriptionH.Billing)
	})

	return r
}

func healthChecks(deps RouterDeps) []HealthCheck {
	var checks []HealthCheck
	if deps.Pool != nil {
		checks = append(checks, HealthCheck{Name: "database", Check: deps.Pool.Ping})
	}
	if deps.RedisClient != nil {
		checks = append(checks, HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return deps.RedisClient.Ping(ctx).Err()
		}})
	}
	return checks
}

func signatureHeaders(p config.ProvidersConfig) map[order.Provider]string {
	headers := make(map[order.Provider]string)
	for name, pc := range p.All() {
		headers[order.Provider(name)] = pc.SignatureHeader
	}
	return headers
}
