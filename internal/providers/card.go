package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
)

// CardAdapter talks to the card processor. Charges are authorized and
// captured synchronously; refunds, disputes and subscription billing arrive
// by webhook.
type CardAdapter struct {
	client *Client
	now    func() time.Time
}

func NewCardAdapter(client *Client) *CardAdapter {
	return &CardAdapter{client: client, now: time.Now}
}

func (a *CardAdapter) Name() order.Provider { return order.ProviderCard }

type cardChargeRequest struct {
	MerchantReference string `json:"merchant_reference"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Capture           bool   `json:"capture"`
	Description       string `json:"description,omitempty"`
	CustomerEmail     string `json:"customer_email,omitempty"`
}

type cardCharge struct {
	ID                string `json:"id"`
	MerchantReference string `json:"merchant_reference"`
	Status            string `json:"status"`
	FailureReason     string `json:"failure_reason"`
}

func (a *CardAdapter) Initiate(ctx context.Context, o *order.Order, amount order.Amount) (*Handle, error) {
	var charge cardCharge
	err := a.client.Do(ctx, http.MethodPost, "/v1/charges", cardChargeRequest{
		MerchantReference: o.ID.String(),
		Amount:            amount.Minor,
		Currency:          amount.Currency,
		Capture:           true,
		Description:       fmt.Sprintf("Order %s", o.ID),
		CustomerEmail:     o.CustomerEmail,
	}, &charge)
	if err != nil {
		return nil, err
	}
	if charge.Status == "failed" || charge.Status == "declined" {
		return nil, fmt.Errorf("%w: card declined: %s", domainErrors.ErrProviderRejected, charge.FailureReason)
	}

	ev, err := a.chargeEvent(charge)
	if err != nil {
		return nil, err
	}
	ev.OrderID = o.ID
	return &Handle{Provider: order.ProviderCard, ExternalID: charge.ID, Event: ev}, nil
}

func (a *CardAdapter) chargeEvent(c cardCharge) (order.Event, error) {
	ev := order.Event{Provider: order.ProviderCard, ExternalID: c.ID, OccurredAt: a.now().UTC()}
	switch c.Status {
	case "authorized":
		ev.Kind, ev.PaymentStatus = order.EventAuthorized, order.PaymentAuthorized
	case "captured", "succeeded":
		ev.Kind, ev.PaymentStatus = order.EventCaptured, order.PaymentCaptured
	case "failed", "declined":
		ev.Kind, ev.PaymentStatus = order.EventPaymentFailed, order.PaymentFailed
	case "refunded":
		ev.Kind, ev.PaymentStatus = order.EventRefunded, order.PaymentRefunded
	case "voided", "canceled":
		ev.Kind = order.EventCanceled
	default:
		return order.Event{}, fmt.Errorf("%w: card charge status %q", domainErrors.ErrUnrecognizedEvent, c.Status)
	}
	return ev, nil
}

type cardWebhook struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type cardSubscriptionData struct {
	SubscriptionID    string `json:"subscription_id"`
	PeriodEnd         int64  `json:"current_period_end"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	Metadata          struct {
		OwnerID string `json:"owner_id"`
		GroupID string `json:"group_id"`
	} `json:"metadata"`
}

func (a *CardAdapter) TranslateWebhook(raw []byte, signatureHeader string) (order.Event, error) {
	wh, err := a.verifiedWebhook(raw, signatureHeader)
	if err != nil {
		return order.Event{}, err
	}
	return a.paymentEvent(wh)
}

// TranslateNotification verifies the delivery once, then routes it by type:
// subscription.* payloads are billing events, everything else is a charge.
func (a *CardAdapter) TranslateNotification(raw []byte, signatureHeader string) (WebhookEvent, error) {
	wh, err := a.verifiedWebhook(raw, signatureHeader)
	if err != nil {
		return WebhookEvent{}, err
	}
	if strings.HasPrefix(wh.Type, "subscription.") {
		ev, err := a.billingEvent(wh)
		if err != nil {
			return WebhookEvent{}, err
		}
		return WebhookEvent{Billing: &ev}, nil
	}
	ev, err := a.paymentEvent(wh)
	return WebhookEvent{Payment: ev}, err
}

func (a *CardAdapter) verifiedWebhook(raw []byte, signatureHeader string) (cardWebhook, error) {
	if err := a.client.Verify(raw, signatureHeader); err != nil {
		return cardWebhook{}, err
	}
	var wh cardWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return cardWebhook{}, fmt.Errorf("%w: %v", domainErrors.ErrUnrecognizedEvent, err)
	}
	return wh, nil
}

func (a *CardAdapter) paymentEvent(wh cardWebhook) (order.Event, error) {
	var charge cardCharge
	if err := json.Unmarshal(wh.Data, &charge); err != nil || charge.ID == "" {
		return order.Event{}, fmt.Errorf("%w: card webhook %s has no charge", domainErrors.ErrUnrecognizedEvent, wh.Type)
	}

	switch wh.Type {
	case "charge.authorized":
		charge.Status = "authorized"
	case "charge.captured", "charge.succeeded":
		charge.Status = "captured"
	case "charge.failed":
		charge.Status = "failed"
	case "charge.refunded":
		charge.Status = "refunded"
	case "charge.voided":
		charge.Status = "voided"
	default:
		return order.Event{}, fmt.Errorf("%w: card webhook type %q", domainErrors.ErrUnrecognizedEvent, wh.Type)
	}

	ev, err := a.chargeEvent(charge)
	if err != nil {
		return order.Event{}, err
	}
	ev.EventID = wh.ID
	ev.OrderID = parseOrderID(charge.MerchantReference)
	if wh.Created > 0 {
		ev.OccurredAt = time.Unix(wh.Created, 0).UTC()
	}
	return ev, nil
}

func (a *CardAdapter) billingEvent(wh cardWebhook) (subscription.BillingEvent, error) {
	var data cardSubscriptionData
	if err := json.Unmarshal(wh.Data, &data); err != nil || data.SubscriptionID == "" {
		return subscription.BillingEvent{}, fmt.Errorf("%w: billing webhook %s has no subscription", domainErrors.ErrUnrecognizedEvent, wh.Type)
	}

	ev := subscription.BillingEvent{
		Provider:               string(order.ProviderCard),
		ProviderSubscriptionID: data.SubscriptionID,
		OwnerID:                data.Metadata.OwnerID,
		GroupID:                data.Metadata.GroupID,
		EventID:                wh.ID,
		CancelAtPeriodEnd:      data.CancelAtPeriodEnd,
		OccurredAt:             time.Unix(wh.Created, 0).UTC(),
	}
	if data.PeriodEnd > 0 {
		ev.PeriodEnd = time.Unix(data.PeriodEnd, 0).UTC()
	}
	switch wh.Type {
	case "subscription.renewed", "subscription.created":
		ev.Kind = subscription.BillingRenewed
	case "subscription.past_due":
		ev.Kind = subscription.BillingPastDue
	case "subscription.canceled", "subscription.deleted":
		ev.Kind = subscription.BillingCanceled
	default:
		return subscription.BillingEvent{}, fmt.Errorf("%w: billing webhook type %q", domainErrors.ErrUnrecognizedEvent, wh.Type)
	}
	return ev, nil
}

func (a *CardAdapter) PollStatus(ctx context.Context, h Handle) (order.Event, error) {
	if h.ExternalID == "" {
		return order.Event{}, domainErrors.ErrNoProviderHandle
	}
	var charge cardCharge
	if err := a.client.Do(ctx, http.MethodGet, "/v1/charges/"+h.ExternalID, nil, &charge); err != nil {
		return order.Event{}, err
	}
	ev, err := a.chargeEvent(charge)
	if err != nil {
		return order.Event{}, err
	}
	ev.OrderID = parseOrderID(charge.MerchantReference)
	return ev, nil
}

func (a *CardAdapter) Void(ctx context.Context, h Handle) error {
	if h.ExternalID == "" {
		return domainErrors.ErrNoProviderHandle
	}
	return a.client.Do(ctx, http.MethodPost, "/v1/charges/"+h.ExternalID+"/void", nil, nil)
}
