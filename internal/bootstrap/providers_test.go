package bootstrap

import (
	"testing"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/config"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/orderrecon/internal/notification"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	mock := config.ProviderConfig{Mode: "mock", ClientID: "client", WebhookSecret: "secret"}
	return &config.Config{
		Providers: config.ProvidersConfig{
			Card:                    mock,
			QRA:                     mock,
			QRB:                     mock,
			Deferred:                mock,
			CircuitBreakerThreshold: 5,
		},
		Webhook: config.WebhookConfig{VerificationPolicy: "always", CallbackPath: "/callbacks/deferred"},
	}
}

func TestNewProviderRegistry_MockMode(t *testing.T) {
	metrics := observability.NewMetrics("bootstrap_test", prometheus.NewRegistry())
	registry := NewProviderRegistry(testConfig(), metrics, zerolog.Nop())

	assert.ElementsMatch(t,
		[]order.Provider{order.ProviderCard, order.ProviderQRA, order.ProviderQRB, order.ProviderDeferred},
		registry.Names())

	for _, name := range registry.Names() {
		adapter, err := registry.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, adapter.Name())

		state, ok := registry.BreakerState(name)
		require.True(t, ok)
		assert.Equal(t, gobreaker.StateClosed, state)
	}
}

func TestNewProviderRegistry_MockVerifiesSignatures(t *testing.T) {
	metrics := observability.NewMetrics("bootstrap_sig_test", prometheus.NewRegistry())
	registry := NewProviderRegistry(testConfig(), metrics, zerolog.Nop())

	adapter, err := registry.Get(order.ProviderCard)
	require.NoError(t, err)

	_, err = adapter.TranslateWebhook([]byte(`{"external_id":"x"}`), "")
	assert.ErrorIs(t, err, domainErrors.ErrSignatureInvalid)
}

func TestNewMailer(t *testing.T) {
	cfg := &config.Config{}
	cfg.Notification.Mode = "log"
	_, ok := NewMailer(cfg, zerolog.Nop()).(*notification.LogMailer)
	assert.True(t, ok)

	cfg.Notification = config.NotificationConfig{Mode: "http", APIURL: "http://mail.local", From: "shop@example.com"}
	_, ok = NewMailer(cfg, zerolog.Nop()).(*notification.HTTPMailer)
	assert.True(t, ok)
}
