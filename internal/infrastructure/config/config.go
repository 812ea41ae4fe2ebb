package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
	OTP           OTPConfig           `mapstructure:"otp"`
	Subscription  SubscriptionConfig  `mapstructure:"subscription"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
	// StorefrontURL is where deferred payment callbacks send the customer back to.
	StorefrontURL string `mapstructure:"storefront_url"`
	// WebhookRateLimit is requests per minute per IP on provider endpoints.
	WebhookRateLimit int `mapstructure:"webhook_rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ApplicationName string        `mapstructure:"application_name"`
	// ConnectRetries bounds the startup ping; the database may still be booting.
	ConnectRetries    uint          `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	PoolSize          int           `mapstructure:"pool_size"`
	MinIdleConns      int           `mapstructure:"min_idle_conns"`
	ConnectRetries    uint          `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// ProviderConfig configures one payment provider.
type ProviderConfig struct {
	// Mode is "live" to call the provider API or "mock" for the in-process sandbox.
	Mode            string        `mapstructure:"mode"`
	BaseURL         string        `mapstructure:"base_url"`
	ClientID        string        `mapstructure:"client_id"`
	APIKey          string        `mapstructure:"api_key"`
	APISecret       string        `mapstructure:"api_secret"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	SignatureHeader string        `mapstructure:"signature_header"`
	WebhookPath     string        `mapstructure:"webhook_path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	// ReturnURL is the customer redirect after paying at the provider.
	ReturnURL string `mapstructure:"return_url"`
	CancelURL string `mapstructure:"cancel_url"`
}

func (p ProviderConfig) Live() bool {
	return p.Mode == "live"
}

type ProvidersConfig struct {
	Card                    ProviderConfig `mapstructure:"card"`
	QRA                     ProviderConfig `mapstructure:"qr_a"`
	QRB                     ProviderConfig `mapstructure:"qr_b"`
	Deferred                ProviderConfig `mapstructure:"deferred"`
	CircuitBreakerThreshold uint32         `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration  `mapstructure:"circuit_breaker_timeout"`
	VoidTimeout             time.Duration  `mapstructure:"void_timeout"`
}

// All returns provider configs keyed by provider name.
func (p ProvidersConfig) All() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"card":     p.Card,
		"qr_a":     p.QRA,
		"qr_b":     p.QRB,
		"deferred": p.Deferred,
	}
}

type WebhookConfig struct {
	// VerificationPolicy is "always" or "never". It is read once at startup.
	VerificationPolicy string        `mapstructure:"verification_policy"`
	SignatureSkew      time.Duration `mapstructure:"signature_skew"`
	CallbackPath       string        `mapstructure:"callback_path"`
}

type IdempotencyConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	// RequestTTL bounds how long a checkout Idempotency-Key response is replayed.
	RequestTTL time.Duration `mapstructure:"request_ttl"`
}

type OTPConfig struct {
	CodeLength  int           `mapstructure:"code_length"`
	TTL         time.Duration `mapstructure:"ttl"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Pepper      string        `mapstructure:"pepper"`
	GrantTTL    time.Duration `mapstructure:"grant_ttl"`
	GrantSecret string        `mapstructure:"grant_secret"`
	IssueLimit  int           `mapstructure:"issue_limit"`
	IssueWindow time.Duration `mapstructure:"issue_window"`
}

type SubscriptionConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type WorkerConfig struct {
	BatchSize               int64         `mapstructure:"batch_size"`
	BlockDuration           time.Duration `mapstructure:"block_duration"`
	OutboxPollInterval      time.Duration `mapstructure:"outbox_poll_interval"`
	ConsumerGroup           string        `mapstructure:"consumer_group"`
	PendingPollAge          time.Duration `mapstructure:"pending_poll_age"`
	PendingPollInterval     time.Duration `mapstructure:"pending_poll_interval"`
	VoidReconcileInterval   time.Duration `mapstructure:"void_reconcile_interval"`
	IdempotencyCleanupEvery time.Duration `mapstructure:"idempotency_cleanup_every"`
	OutboxRetention         time.Duration `mapstructure:"outbox_retention"`
	LockTTL                 time.Duration `mapstructure:"lock_ttl"`
	ReclaimIdle             time.Duration `mapstructure:"reclaim_idle"`
}

type NotificationConfig struct {
	// Mode is "http" to call the mail API or "log" to only log messages.
	Mode    string        `mapstructure:"mode"`
	APIURL  string        `mapstructure:"api_url"`
	APIKey  string        `mapstructure:"api_key"`
	From    string        `mapstructure:"from"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

// Load reads configuration from defaults, an optional config.yaml, an
// optional .env file and RECON_* environment variables, in increasing priority.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindSecrets(v); err != nil {
		return nil, fmt.Errorf("failed to bind secrets: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/orderrecon")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

var providerNames = []string{"card", "qr_a", "qr_b", "deferred"}

// bindSecrets registers keys that have no default so the environment can
// supply them.
func bindSecrets(v *viper.Viper) error {
	keys := []string{
		"database.password",
		"redis.password",
		"auth.jwt_secret",
		"otp.pepper",
		"otp.grant_secret",
		"notification.api_url",
		"notification.api_key",
	}
	for _, name := range providerNames {
		for _, field := range []string{"base_url", "api_key", "api_secret", "webhook_secret", "return_url", "cancel_url"} {
			keys = append(keys, "providers."+name+"."+field)
		}
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("worker.lock_ttl must be positive"))
	}

	switch c.Webhook.VerificationPolicy {
	case "always", "never":
	default:
		errs = append(errs, fmt.Errorf("webhook.verification_policy must be always or never, got %q", c.Webhook.VerificationPolicy))
	}

	if c.OTP.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("otp.max_attempts must be positive"))
	}
	if c.OTP.CodeLength < 6 {
		errs = append(errs, fmt.Errorf("otp.code_length must be at least 6"))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, fmt.Errorf("otp.ttl must be positive"))
	}

	for name, p := range c.Providers.All() {
		if c.Webhook.VerificationPolicy == "always" {
			if p.ClientID == "" {
				errs = append(errs, fmt.Errorf("providers.%s.client_id is required when webhooks are verified", name))
			}
			if p.WebhookSecret == "" {
				errs = append(errs, fmt.Errorf("providers.%s.webhook_secret is required when webhooks are verified", name))
			}
		}
		switch p.Mode {
		case "mock":
		case "live":
			if p.BaseURL == "" {
				errs = append(errs, fmt.Errorf("providers.%s.base_url is required in live mode", name))
			}
			if p.APISecret == "" {
				errs = append(errs, fmt.Errorf("providers.%s.api_secret is required in live mode", name))
			}
		default:
			errs = append(errs, fmt.Errorf("providers.%s.mode must be live or mock, got %q", name, p.Mode))
		}
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.OTP.Pepper == "" {
			errs = append(errs, fmt.Errorf("otp.pepper required in production"))
		}
		if c.OTP.GrantSecret == "" {
			errs = append(errs, fmt.Errorf("otp.grant_secret required in production"))
		}
		if c.Webhook.VerificationPolicy == "never" {
			errs = append(errs, fmt.Errorf("webhook.verification_policy never is not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}
	if c.OTP.GrantSecret != "" && len(c.OTP.GrantSecret) < 32 {
		errs = append(errs, fmt.Errorf("otp.grant_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.storefront_url", "http://localhost:3000")
	v.SetDefault("server.webhook_rate_limit", 600)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "orderrecon")
	v.SetDefault("database.database", "orderrecon")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.application_name", "orderrecon")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.connect_retry_delay", "1s")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	// Provider defaults
	for _, name := range providerNames {
		v.SetDefault("providers."+name+".mode", "mock")
		v.SetDefault("providers."+name+".client_id", "orderrecon-"+name)
		v.SetDefault("providers."+name+".signature_header", "X-Signature")
		v.SetDefault("providers."+name+".webhook_path", "/webhooks/"+name)
		v.SetDefault("providers."+name+".timeout", "2s")
	}
	v.SetDefault("providers.circuit_breaker_threshold", 10)
	v.SetDefault("providers.circuit_breaker_timeout", "30s")
	v.SetDefault("providers.void_timeout", "3s")

	// Webhook defaults
	v.SetDefault("webhook.verification_policy", "always")
	v.SetDefault("webhook.signature_skew", "120s")
	v.SetDefault("webhook.callback_path", "/callbacks/deferred")

	// Idempotency defaults
	v.SetDefault("idempotency.retention", "720h")
	v.SetDefault("idempotency.request_ttl", "24h")

	// OTP defaults
	v.SetDefault("otp.code_length", 8)
	v.SetDefault("otp.ttl", "10m")
	v.SetDefault("otp.cooldown", "60s")
	v.SetDefault("otp.max_attempts", 5)
	v.SetDefault("otp.grant_ttl", "10m")
	v.SetDefault("otp.issue_limit", 5)
	v.SetDefault("otp.issue_window", "1h")

	// Subscription defaults
	v.SetDefault("subscription.sweep_interval", "5m")
	v.SetDefault("subscription.batch_size", 200)

	// Worker defaults
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.outbox_poll_interval", "2s")
	v.SetDefault("worker.consumer_group", "notification-dispatchers")
	v.SetDefault("worker.pending_poll_age", "2m")
	v.SetDefault("worker.pending_poll_interval", "1m")
	v.SetDefault("worker.void_reconcile_interval", "5m")
	v.SetDefault("worker.idempotency_cleanup_every", "1h")
	v.SetDefault("worker.outbox_retention", "168h")
	v.SetDefault("worker.lock_ttl", "2m")
	v.SetDefault("worker.reclaim_idle", "5m")

	// Notification defaults
	v.SetDefault("notification.mode", "log")
	v.SetDefault("notification.from", "no-reply@example.com")
	v.SetDefault("notification.timeout", "5s")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", true)

	// Instance ID
	v.SetDefault("instance_id", "orderrecon-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.ApplicationName,
	)
}

// DatabaseURL is the URL form golang-migrate expects.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
