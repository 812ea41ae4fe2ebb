package providers

import (
	"context"
	"net/url"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
)

// Handle is what a provider returns for an initiated payment.
type Handle struct {
	Provider   order.Provider
	ExternalID string
	// RedirectURL is where the customer completes payment (wallet page, pay-later form).
	RedirectURL string
	// QRCode is the deeplink rendered as a QR code by QR wallets.
	QRCode    string
	ExpiresAt time.Time
	// Event is the ledger event the initiation itself produced.
	Event order.Event
}

// Adapter is the common surface every payment provider implements. All
// provider-specific wire formats stay behind it.
type Adapter interface {
	// Name returns the provider identifier.
	Name() order.Provider
	// Initiate creates a payment at the provider. A failure never moves the order.
	Initiate(ctx context.Context, o *order.Order, amount order.Amount) (*Handle, error)
	// TranslateWebhook verifies the signature and converts the payload to a ledger event.
	TranslateWebhook(raw []byte, signatureHeader string) (order.Event, error)
	// PollStatus asks the provider for the current state of a handle.
	PollStatus(ctx context.Context, h Handle) (order.Event, error)
}

// Voider is implemented by adapters that can cancel an outstanding payment.
type Voider interface {
	Void(ctx context.Context, h Handle) error
}

// WebhookEvent is a verified delivery from a webhook that carries both
// payment and subscription billing events. Billing is set for billing
// deliveries; Payment otherwise.
type WebhookEvent struct {
	Payment order.Event
	Billing *subscription.BillingEvent
}

// BillingTranslator is implemented by adapters that also deliver subscription
// billing events on their webhook. The signature is checked before the
// payload is inspected.
type BillingTranslator interface {
	TranslateNotification(raw []byte, signatureHeader string) (WebhookEvent, error)
}

// CallbackTranslator is implemented by adapters that report results through a
// signed browser redirect instead of a server-to-server webhook.
type CallbackTranslator interface {
	TranslateCallback(query url.Values) (order.Event, error)
}

// HandleFor rebuilds a handle from the order's recorded external reference.
func HandleFor(o *order.Order, p order.Provider) (Handle, bool) {
	id, ok := o.ExternalRef(p)
	if !ok {
		return Handle{}, false
	}
	return Handle{Provider: p, ExternalID: id}, true
}
