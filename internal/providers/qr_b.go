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

// QRBAdapter talks to QR wallet B: a payment request returns a payment page
// URL, the wallet confirms the payment and notifies us by webhook.
type QRBAdapter struct {
	client     *Client
	confirmURL string
	cancelURL  string
	now        func() time.Time
}

func NewQRBAdapter(client *Client, confirmURL, cancelURL string) *QRBAdapter {
	return &QRBAdapter{client: client, confirmURL: confirmURL, cancelURL: cancelURL, now: time.Now}
}

func (a *QRBAdapter) Name() order.Provider { return order.ProviderQRB }

type qrbProduct struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

type qrbPackage struct {
	ID       string       `json:"id"`
	Amount   int64        `json:"amount"`
	Products []qrbProduct `json:"products"`
}

type qrbRequest struct {
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	OrderID      string       `json:"orderId"`
	Packages     []qrbPackage `json:"packages"`
	RedirectURLs struct {
		ConfirmURL string `json:"confirmUrl"`
		CancelURL  string `json:"cancelUrl"`
	} `json:"redirectUrls"`
}

type qrbResponse struct {
	ReturnCode    string `json:"returnCode"`
	ReturnMessage string `json:"returnMessage"`
	Info          struct {
		TransactionID json.Number `json:"transactionId"`
		PaymentURL    struct {
			Web string `json:"web"`
			App string `json:"app"`
		} `json:"paymentUrl"`
	} `json:"info"`
}

func (a *QRBAdapter) Initiate(ctx context.Context, o *order.Order, amount order.Amount) (*Handle, error) {
	products := make([]qrbProduct, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		name := li.Name
		if name == "" {
			name = li.SKU
		}
		products = append(products, qrbProduct{Name: name, Quantity: li.Quantity, Price: li.UnitPrice})
	}

	req := qrbRequest{
		Amount:   amount.Minor,
		Currency: amount.Currency,
		OrderID:  o.ID.String(),
		Packages: []qrbPackage{{ID: o.ID.String(), Amount: amount.Minor, Products: products}},
	}
	req.RedirectURLs.ConfirmURL = a.confirmURL
	req.RedirectURLs.CancelURL = a.cancelURL

	var resp qrbResponse
	if err := a.client.Do(ctx, http.MethodPost, "/v3/payments/request", req, &resp); err != nil {
		return nil, err
	}
	if resp.ReturnCode != "0000" || resp.Info.TransactionID == "" {
		return nil, fmt.Errorf("%w: qr_b request: %s %s", domainErrors.ErrProviderRejected, resp.ReturnCode, resp.ReturnMessage)
	}

	txID := resp.Info.TransactionID.String()
	return &Handle{
		Provider:    order.ProviderQRB,
		ExternalID:  txID,
		RedirectURL: resp.Info.PaymentURL.Web,
		QRCode:      resp.Info.PaymentURL.App,
		Event: order.Event{
			Kind:       order.EventAwaitingPayment,
			Provider:   order.ProviderQRB,
			OrderID:    o.ID,
			ExternalID: txID,
			OccurredAt: a.now().UTC(),
		},
	}, nil
}

type qrbWebhook struct {
	EventID       string      `json:"eventId"`
	Event         string      `json:"event"`
	TransactionID json.Number `json:"transactionId"`
	OrderID       string      `json:"orderId"`
	EventTime     int64       `json:"eventTime"`
}

func (a *QRBAdapter) TranslateWebhook(raw []byte, signatureHeader string) (order.Event, error) {
	if err := a.client.Verify(raw, signatureHeader); err != nil {
		return order.Event{}, err
	}

	var wh qrbWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return order.Event{}, fmt.Errorf("%w: %v", domainErrors.ErrUnrecognizedEvent, err)
	}

	ev := order.Event{
		Provider:   order.ProviderQRB,
		ExternalID: wh.TransactionID.String(),
		EventID:    wh.EventID,
		OrderID:    parseOrderID(wh.OrderID),
		OccurredAt: a.now().UTC(),
	}
	if wh.EventTime > 0 {
		ev.OccurredAt = time.Unix(wh.EventTime, 0).UTC()
	}
	switch wh.Event {
	case "PAYMENT_AUTHORIZED":
		ev.Kind, ev.PaymentStatus = order.EventAuthorized, order.PaymentAuthorized
	case "PAYMENT_CONFIRMED", "PAYMENT_CAPTURED":
		ev.Kind, ev.PaymentStatus = order.EventCaptured, order.PaymentCaptured
	case "PAYMENT_FAILED":
		ev.Kind, ev.PaymentStatus = order.EventPaymentFailed, order.PaymentFailed
	case "PAYMENT_EXPIRED":
		ev.Kind, ev.PaymentStatus = order.EventExpired, order.PaymentExpired
	case "PAYMENT_CANCELED", "PAYMENT_VOIDED":
		ev.Kind = order.EventCanceled
	case "REFUNDED":
		ev.Kind, ev.PaymentStatus = order.EventRefunded, order.PaymentRefunded
	default:
		return order.Event{}, fmt.Errorf("%w: qr_b event %q", domainErrors.ErrUnrecognizedEvent, wh.Event)
	}
	return ev, nil
}

// qrbCheckCodes maps the payment-request check endpoint's return codes.
var qrbCheckCodes = map[string]struct {
	kind   order.EventKind
	status order.PaymentStatus
}{
	"0000": {order.EventAwaitingPayment, order.PaymentNone},
	"0110": {order.EventAuthorized, order.PaymentAuthorized},
	"0121": {order.EventExpired, order.PaymentExpired},
	"0122": {order.EventPaymentFailed, order.PaymentFailed},
	"0123": {order.EventCaptured, order.PaymentCaptured},
}

func (a *QRBAdapter) PollStatus(ctx context.Context, h Handle) (order.Event, error) {
	if h.ExternalID == "" {
		return order.Event{}, domainErrors.ErrNoProviderHandle
	}
	var resp qrbResponse
	if err := a.client.Do(ctx, http.MethodGet, "/v3/payments/requests/"+h.ExternalID+"/check", nil, &resp); err != nil {
		return order.Event{}, err
	}
	m, ok := qrbCheckCodes[resp.ReturnCode]
	if !ok {
		return order.Event{}, fmt.Errorf("%w: qr_b check code %q", domainErrors.ErrUnrecognizedEvent, resp.ReturnCode)
	}
	return order.Event{
		Kind:          m.kind,
		Provider:      order.ProviderQRB,
		ExternalID:    h.ExternalID,
		PaymentStatus: m.status,
		OccurredAt:    a.now().UTC(),
	}, nil
}

// Void releases an authorization that has not been captured.
func (a *QRBAdapter) Void(ctx context.Context, h Handle) error {
	if h.ExternalID == "" {
		return domainErrors.ErrNoProviderHandle
	}
	var resp qrbResponse
	if err := a.client.Do(ctx, http.MethodPost, "/v3/payments/authorizations/"+h.ExternalID+"/void", nil, &resp); err != nil {
		return err
	}
	if resp.ReturnCode != "0000" {
		return fmt.Errorf("%w: qr_b void: %s %s", domainErrors.ErrProviderRejected, resp.ReturnCode, resp.ReturnMessage)
	}
	return nil
}
