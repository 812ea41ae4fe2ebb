package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/orderrecon/internal/bootstrap"
	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	infraRedis "github.com/cassiomorais/orderrecon/internal/infrastructure/redis"
	"github.com/cassiomorais/orderrecon/internal/repository/postgres"
	"github.com/cassiomorais/orderrecon/internal/service"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "orderrecon-worker", "orderrecon_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	cfg := app.Config
	workerCfg := cfg.Worker

	// --- Repositories ---
	orderRepo := postgres.NewOrderRepository(app.Pool)
	subscriptionRepo := postgres.NewSubscriptionRepository(app.Pool)
	outboxRepo := postgres.NewOutboxRepository(app.Pool)
	inventoryRepo := postgres.NewInventoryRepository(app.Pool)
	claimRepo := postgres.NewIdempotencyRepository(app.Pool, cfg.Idempotency.Retention)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Redis ---
	producer := infraRedis.NewStreamProducer(app.Redis)
	deliveryClaims := infraRedis.NewClaimStore(app.Redis, cfg.Idempotency.Retention)
	locker := infraRedis.NewLocker(app.Redis, workerCfg.LockTTL)

	// --- Services ---
	registry := bootstrap.NewProviderRegistry(cfg, app.Metrics, app.Logger)
	ledger := service.NewLedgerService(orderRepo, claimRepo, outboxRepo, txManager, app.Metrics, app.Logger)
	subscriptions := service.NewSubscriptionService(subscriptionRepo, claimRepo, txManager, app.Metrics, app.Logger, cfg.Subscription.BatchSize)
	reconciler := service.NewReconciliationService(orderRepo, ledger, subscriptions, registry, app.Metrics, app.Logger)
	publisher := service.NewOutboxPublisher(outboxRepo, producer, txManager, app.Logger)
	dispatcher := service.NewDispatcher(deliveryClaims, bootstrap.NewMailer(cfg, app.Logger), app.Metrics, app.Logger)
	consumption := service.NewConsumptionService(inventoryRepo, claimRepo, txManager, app.Metrics, app.Logger)
	router := service.NewEventRouter().
		Register(outbox.EventOrderConfirmation, dispatcher).
		Register(outbox.EventOrderConsumption, consumption)

	// --- Notification stream consumer ---
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.NotificationStream,
		workerCfg.ConsumerGroup,
		cfg.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
		os.Exit(1)
	}

	batch := int(workerCfg.BatchSize)
	jobs := []periodicJob{
		{name: "outbox_publish", interval: workerCfg.OutboxPollInterval, run: func(ctx context.Context) (int, error) {
			return publisher.PublishPending(ctx, batch)
		}},
		{name: "subscription_sweep", interval: cfg.Subscription.SweepInterval, run: subscriptions.SweepAll},
		{name: "pending_poll", interval: workerCfg.PendingPollInterval, run: func(ctx context.Context) (int, error) {
			return reconciler.PollPending(ctx, workerCfg.PendingPollAge, batch)
		}},
		{name: "void_reconcile", interval: workerCfg.VoidReconcileInterval, run: func(ctx context.Context) (int, error) {
			return reconciler.ReconcileVoids(ctx, batch)
		}},
		{name: "retention_cleanup", interval: workerCfg.IdempotencyCleanupEvery, run: func(ctx context.Context) (int, error) {
			claims, err := claimRepo.Cleanup(ctx)
			if err != nil {
				return 0, err
			}
			purged, err := publisher.Purge(ctx, workerCfg.OutboxRetention)
			return int(claims + purged), err
		}},
	}

	loop := &notificationLoop{
		reader:      consumer,
		dlq:         producer,
		handler:     router,
		reclaimIdle: workerCfg.ReclaimIdle,
		metrics:     app.Metrics,
		logger:      app.Logger,
	}

	app.Logger.Info().
		Str("stream", infraRedis.NotificationStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", cfg.InstanceID).
		Int("jobs", len(jobs)).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.run(gCtx)
	})
	for _, job := range jobs {
		g.Go(func() error {
			return runPeriodic(gCtx, locker, job, app.Metrics, app.Logger)
		})
	}
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
