package bootstrap

import (
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/config"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/orderrecon/internal/notification"
	"github.com/cassiomorais/orderrecon/internal/providers"
	"github.com/cassiomorais/orderrecon/pkg/signer"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// NewProviderRegistry builds one adapter per configured provider. Providers
// in mock mode get the in-process sandbox, which still verifies inbound
// signatures with the configured webhook secret.
func NewProviderRegistry(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) *providers.Registry {
	policy := signer.ParsePolicy(cfg.Webhook.VerificationPolicy)
	pc := cfg.Providers

	adapters := []providers.Adapter{
		buildAdapter(order.ProviderCard, pc.Card, cfg, policy, func(c *providers.Client) providers.Adapter {
			return providers.NewCardAdapter(c)
		}),
		buildAdapter(order.ProviderQRA, pc.QRA, cfg, policy, func(c *providers.Client) providers.Adapter {
			return providers.NewQRAAdapter(c, pc.QRA.ReturnURL)
		}),
		buildAdapter(order.ProviderQRB, pc.QRB, cfg, policy, func(c *providers.Client) providers.Adapter {
			return providers.NewQRBAdapter(c, pc.QRB.ReturnURL, pc.QRB.CancelURL)
		}),
		buildAdapter(order.ProviderDeferred, pc.Deferred, cfg, policy, func(c *providers.Client) providers.Adapter {
			return providers.NewDeferredAdapter(c, pc.Deferred.ReturnURL, cfg.Webhook.CallbackPath)
		}),
	}
	for _, a := range adapters {
		mode := "mock"
		if _, ok := a.(*providers.MockAdapter); !ok {
			mode = "live"
		}
		logger.Info().Str("provider", string(a.Name())).Str("mode", mode).Msg("Provider configured")
	}

	return providers.NewRegistry(providers.BreakerSettings{
		Threshold: pc.CircuitBreakerThreshold,
		Timeout:   pc.CircuitBreakerTimeout,
		OnStateChange: func(provider string, from, to gobreaker.State) {
			metrics.BreakerState(provider, int(to))
			logger.Warn().
				Str("provider", provider).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}, adapters...)
}

func buildAdapter(
	name order.Provider,
	p config.ProviderConfig,
	cfg *config.Config,
	policy signer.VerificationPolicy,
	live func(*providers.Client) providers.Adapter,
) providers.Adapter {
	if !p.Live() {
		verifier := signer.New(p.ClientID, p.WebhookSecret, signer.WithSkew(cfg.Webhook.SignatureSkew))
		return providers.NewMockAdapter(name, providers.WithWebhookSigner(verifier, policy))
	}
	return live(providers.NewClient(providers.ClientConfig{
		BaseURL:       p.BaseURL,
		ClientID:      p.ClientID,
		APIKey:        p.APIKey,
		APISecret:     p.APISecret,
		WebhookSecret: p.WebhookSecret,
		WebhookPath:   p.WebhookPath,
		Timeout:       p.Timeout,
		Skew:          cfg.Webhook.SignatureSkew,
		Policy:        policy,
	}))
}

// NewMailer returns the HTTP mailer or, in log mode, a mailer that only logs.
func NewMailer(cfg *config.Config, logger zerolog.Logger) notification.Mailer {
	n := cfg.Notification
	if n.Mode == "http" {
		return notification.NewHTTPMailer(n.APIURL, n.APIKey, n.From, n.Timeout)
	}
	return notification.NewLogMailer(logger)
}
