package bootstrap

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/cassiomorais/orderrecon/internal/infrastructure/config"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/orderrecon/internal/infrastructure/redis"
	"github.com/cassiomorais/orderrecon/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App holds the process-wide dependencies shared by the api and worker binaries.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	tracer *sdktrace.TracerProvider
}

// New loads configuration and connects storage. serviceName labels logs and
// traces; metricsNamespace prefixes every Prometheus series.
func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout).
		With().
		Str("service", serviceName).
		Str("instance", cfg.InstanceID).
		Logger()
	logger.Info().Msg("Starting")

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(metricsNamespace, nil),
	}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.tracer = tp
			logger.Info().Str("endpoint", cfg.Observability.JaegerEndpoint).Msg("Tracing enabled")
		}
	}

	app.Pool, err = postgres.NewPool(ctx, &cfg.Database, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Str("database", cfg.Database.Database).Msg("Connected to PostgreSQL")

	app.Redis, err = infraRedis.NewClient(ctx, &cfg.Redis, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Connected to Redis")

	return app, nil
}

// Close flushes pending spans and releases the connection pools. It is safe
// on a partially built App.
func (a *App) Close() {
	if a.tracer != nil {
		observability.Shutdown(context.Background(), a.tracer)
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// GrantSecret returns the configured step-up grant key. Without one, grants
// are signed with a per-process random key and do not survive a restart.
func (a *App) GrantSecret() []byte {
	if a.Config.OTP.GrantSecret != "" {
		return []byte(a.Config.OTP.GrantSecret)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(fmt.Sprintf("generate grant secret: %v", err))
	}
	a.Logger.Warn().Msg("otp.grant_secret not set, using an ephemeral key")
	return key
}
