package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
)

// QRAAdapter talks to QR wallet A: we create a dynamic QR code, the customer
// scans and pays in the wallet app, and the result arrives by webhook.
type QRAAdapter struct {
	client      *Client
	redirectURL string
	codeTTL     time.Duration
	now         func() time.Time
}

func NewQRAAdapter(client *Client, redirectURL string) *QRAAdapter {
	return &QRAAdapter{client: client, redirectURL: redirectURL, codeTTL: 10 * time.Minute, now: time.Now}
}

func (a *QRAAdapter) Name() order.Provider { return order.ProviderQRA }

type qraMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type qraCreateCode struct {
	MerchantPaymentID string   `json:"merchantPaymentId"`
	Amount            qraMoney `json:"amount"`
	CodeType          string   `json:"codeType"`
	OrderDescription  string   `json:"orderDescription,omitempty"`
	RedirectURL       string   `json:"redirectUrl,omitempty"`
	RedirectType      string   `json:"redirectType,omitempty"`
	RequestedAt       int64    `json:"requestedAt"`
	ExpiresAt         int64    `json:"codeExpiryDate,omitempty"`
}

type qraResultInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type qraCodeResponse struct {
	ResultInfo qraResultInfo `json:"resultInfo"`
	Data       struct {
		CodeID     string `json:"codeId"`
		URL        string `json:"url"`
		Deeplink   string `json:"deeplink"`
		ExpiryDate int64  `json:"expiryDate"`
	} `json:"data"`
}

type qraPaymentResponse struct {
	ResultInfo qraResultInfo `json:"resultInfo"`
	Data       struct {
		CodeID            string `json:"codeId"`
		MerchantPaymentID string `json:"merchantPaymentId"`
		Status            string `json:"status"`
		AcceptedAt        int64  `json:"acceptedAt"`
	} `json:"data"`
}

func (a *QRAAdapter) Initiate(ctx context.Context, o *order.Order, amount order.Amount) (*Handle, error) {
	now := a.now().UTC()
	var resp qraCodeResponse
	err := a.client.Do(ctx, http.MethodPost, "/v2/codes", qraCreateCode{
		MerchantPaymentID: o.ID.String(),
		Amount:            qraMoney{Amount: amount.Minor, Currency: amount.Currency},
		CodeType:          "ORDER_QR",
		OrderDescription:  fmt.Sprintf("Order %s", o.ID),
		RedirectURL:       a.redirectURL,
		RedirectType:      "WEB_LINK",
		RequestedAt:       now.Unix(),
		ExpiresAt:         now.Add(a.codeTTL).Unix(),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.ResultInfo.Code != "SUCCESS" || resp.Data.CodeID == "" {
		return nil, fmt.Errorf("%w: qr_a create code: %s %s", domainErrors.ErrProviderRejected, resp.ResultInfo.Code, resp.ResultInfo.Message)
	}

	h := &Handle{
		Provider:    order.ProviderQRA,
		ExternalID:  resp.Data.CodeID,
		RedirectURL: resp.Data.URL,
		QRCode:      resp.Data.Deeplink,
		Event: order.Event{
			Kind:       order.EventAwaitingPayment,
			Provider:   order.ProviderQRA,
			OrderID:    o.ID,
			ExternalID: resp.Data.CodeID,
			OccurredAt: now,
		},
	}
	if resp.Data.ExpiryDate > 0 {
		h.ExpiresAt = time.Unix(resp.Data.ExpiryDate, 0).UTC()
	}
	return h, nil
}

type qraWebhook struct {
	NotificationType string `json:"notification_type"`
	NotificationID   string `json:"notification_id"`
	MerchantOrderID  string `json:"merchant_order_id"`
	CodeID           string `json:"code_id"`
	State            string `json:"state"`
	PaidAt           int64  `json:"paid_at"`
}

func (a *QRAAdapter) TranslateWebhook(raw []byte, signatureHeader string) (order.Event, error) {
	if err := a.client.Verify(raw, signatureHeader); err != nil {
		return order.Event{}, err
	}

	var wh qraWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return order.Event{}, fmt.Errorf("%w: %v", domainErrors.ErrUnrecognizedEvent, err)
	}
	if wh.NotificationType != "Transaction" {
		return order.Event{}, fmt.Errorf("%w: qr_a notification type %q", domainErrors.ErrUnrecognizedEvent, wh.NotificationType)
	}

	ev, err := a.stateEvent(wh.State)
	if err != nil {
		return order.Event{}, err
	}
	ev.ExternalID = wh.CodeID
	ev.EventID = wh.NotificationID
	ev.OrderID = parseOrderID(wh.MerchantOrderID)
	if wh.PaidAt > 0 {
		ev.OccurredAt = time.Unix(wh.PaidAt, 0).UTC()
	}
	return ev, nil
}

func (a *QRAAdapter) PollStatus(ctx context.Context, h Handle) (order.Event, error) {
	if h.ExternalID == "" {
		return order.Event{}, domainErrors.ErrNoProviderHandle
	}
	var resp qraPaymentResponse
	if err := a.client.Do(ctx, http.MethodGet, "/v2/codes/"+h.ExternalID+"/payment", nil, &resp); err != nil {
		return order.Event{}, err
	}
	if resp.ResultInfo.Code != "SUCCESS" {
		return order.Event{}, fmt.Errorf("%w: qr_a poll: %s", domainErrors.ErrProviderRejected, resp.ResultInfo.Code)
	}
	ev, err := a.stateEvent(resp.Data.Status)
	if err != nil {
		return order.Event{}, err
	}
	ev.ExternalID = h.ExternalID
	ev.OrderID = parseOrderID(resp.Data.MerchantPaymentID)
	return ev, nil
}

// Void deletes the QR code so it can no longer be paid.
func (a *QRAAdapter) Void(ctx context.Context, h Handle) error {
	if h.ExternalID == "" {
		return domainErrors.ErrNoProviderHandle
	}
	return a.client.Do(ctx, http.MethodDelete, "/v2/codes/"+h.ExternalID, nil, nil)
}

func (a *QRAAdapter) stateEvent(state string) (order.Event, error) {
	ev := order.Event{Provider: order.ProviderQRA, OccurredAt: a.now().UTC()}
	switch state {
	case "CREATED":
		ev.Kind = order.EventAwaitingPayment
	case "AUTHORIZED":
		ev.Kind, ev.PaymentStatus = order.EventAuthorized, order.PaymentAuthorized
	case "COMPLETED":
		ev.Kind, ev.PaymentStatus = order.EventCaptured, order.PaymentCaptured
	case "FAILED":
		ev.Kind, ev.PaymentStatus = order.EventPaymentFailed, order.PaymentFailed
	case "EXPIRED":
		ev.Kind, ev.PaymentStatus = order.EventExpired, order.PaymentExpired
	case "CANCELED":
		ev.Kind = order.EventCanceled
	case "REFUNDED":
		ev.Kind, ev.PaymentStatus = order.EventRefunded, order.PaymentRefunded
	default:
		return order.Event{}, fmt.Errorf("%w: qr_a state %q", domainErrors.ErrUnrecognizedEvent, state)
	}
	return ev, nil
}
