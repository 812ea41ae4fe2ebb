package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/orderrecon/internal/bootstrap"
	"github.com/cassiomorais/orderrecon/internal/controller"
	infraRedis "github.com/cassiomorais/orderrecon/internal/infrastructure/redis"
	"github.com/cassiomorais/orderrecon/internal/middleware"
	"github.com/cassiomorais/orderrecon/internal/notification"
	"github.com/cassiomorais/orderrecon/internal/repository/postgres"
	"github.com/cassiomorais/orderrecon/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "orderrecon-api", "orderrecon")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	cfg := app.Config

	// --- Repositories ---
	orderRepo := postgres.NewOrderRepository(app.Pool)
	subscriptionRepo := postgres.NewSubscriptionRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	claimRepo := postgres.NewIdempotencyRepository(app.Pool, cfg.Idempotency.Retention)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Redis-backed stores ---
	codeStore := infraRedis.NewAccessCodeStore(app.Redis)
	limiter := infraRedis.NewFixedWindowLimiter(app.Redis)
	responseCache := infraRedis.NewResponseCache(app.Redis)

	// --- Providers ---
	registry := bootstrap.NewProviderRegistry(cfg, app.Metrics, app.Logger)
	mailer := bootstrap.NewMailer(cfg, app.Logger)

	// --- Services ---
	ledger := service.NewLedgerService(orderRepo, claimRepo, outboxRepo, txManager, app.Metrics, app.Logger)
	checkout := service.NewCheckoutService(orderRepo, ledger, registry, app.Metrics, app.Logger, cfg.Providers.VoidTimeout)
	subscriptions := service.NewSubscriptionService(subscriptionRepo, claimRepo, txManager, app.Metrics, app.Logger, cfg.Subscription.BatchSize)
	reconciler := service.NewReconciliationService(orderRepo, ledger, subscriptions, registry, app.Metrics, app.Logger)
	stepUp := service.NewStepUpService(
		codeStore,
		limiter,
		notification.NewAccessCodeSender(mailer, middleware.SessionEmail),
		service.StepUpConfig{
			CodeLength:  cfg.OTP.CodeLength,
			TTL:         cfg.OTP.TTL,
			Cooldown:    cfg.OTP.Cooldown,
			MaxAttempts: cfg.OTP.MaxAttempts,
			Pepper:      cfg.OTP.Pepper,
			GrantTTL:    cfg.OTP.GrantTTL,
			GrantSecret: app.GrantSecret(),
			IssueLimit:  cfg.OTP.IssueLimit,
			IssueWindow: cfg.OTP.IssueWindow,
		},
		app.Metrics,
		app.Logger,
	)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:          app.Pool,
		RedisClient:   app.Redis,
		Orders:        checkout,
		Refresher:     reconciler,
		Webhooks:      reconciler,
		Subscriptions: subscriptions,
		StepUp:        stepUp,
		Grants:        stepUp,
		ResponseCache: responseCache,
		Breakers:      registry,
		Metrics:       app.Metrics,
		Logger:        app.Logger,
		Config:        cfg,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
