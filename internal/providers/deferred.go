package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
)

// CallbackSignatureParam carries the OPA-Auth header value on deferred
// payment redirects. The signature covers every other query parameter.
const CallbackSignatureParam = "signature"

// DeferredAdapter talks to the pay-later provider. The customer finishes an
// application on the provider's page and is redirected back with a signed
// result; the provider also sends webhooks for later settlement.
type DeferredAdapter struct {
	client       *Client
	returnURL    string
	callbackPath string
	now          func() time.Time
}

func NewDeferredAdapter(client *Client, returnURL, callbackPath string) *DeferredAdapter {
	return &DeferredAdapter{client: client, returnURL: returnURL, callbackPath: callbackPath, now: time.Now}
}

func (a *DeferredAdapter) Name() order.Provider { return order.ProviderDeferred }

type deferredGoods struct {
	Name     string `json:"goods_name"`
	Price    int64  `json:"goods_price"`
	Quantity int    `json:"quantity"`
}

type deferredTransactionRequest struct {
	ShopTransactionID string          `json:"shop_transaction_id"`
	BilledAmount      int64           `json:"billed_amount"`
	Currency          string          `json:"currency"`
	CustomerEmail     string          `json:"customer_email"`
	Goods             []deferredGoods `json:"goods"`
	ReturnURL         string          `json:"return_url"`
}

type deferredTransaction struct {
	TransactionID     string `json:"transaction_id"`
	ShopTransactionID string `json:"shop_transaction_id"`
	Status            string `json:"status"`
	AuthoriResult     string `json:"authori_result"`
	RedirectURL       string `json:"redirect_url"`
}

func (a *DeferredAdapter) Initiate(ctx context.Context, o *order.Order, amount order.Amount) (*Handle, error) {
	goods := make([]deferredGoods, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		goods = append(goods, deferredGoods{Name: li.Name, Price: li.UnitPrice, Quantity: li.Quantity})
	}

	var tx deferredTransaction
	err := a.client.Do(ctx, http.MethodPost, "/v1/transactions", deferredTransactionRequest{
		ShopTransactionID: o.ID.String(),
		BilledAmount:      amount.Minor,
		Currency:          amount.Currency,
		CustomerEmail:     o.CustomerEmail,
		Goods:             goods,
		ReturnURL:         a.returnURL,
	}, &tx)
	if err != nil {
		return nil, err
	}
	if tx.AuthoriResult == "NG" || tx.TransactionID == "" {
		return nil, fmt.Errorf("%w: deferred transaction refused", domainErrors.ErrProviderRejected)
	}

	return &Handle{
		Provider:    order.ProviderDeferred,
		ExternalID:  tx.TransactionID,
		RedirectURL: tx.RedirectURL,
		Event: order.Event{
			Kind:       order.EventAwaitingPayment,
			Provider:   order.ProviderDeferred,
			OrderID:    o.ID,
			ExternalID: tx.TransactionID,
			OccurredAt: a.now().UTC(),
		},
	}, nil
}

type deferredWebhook struct {
	EventID           string `json:"event_id"`
	TransactionID     string `json:"transaction_id"`
	ShopTransactionID string `json:"shop_transaction_id"`
	Status            string `json:"status"`
	OccurredAt        int64  `json:"occurred_at"`
}

func (a *DeferredAdapter) TranslateWebhook(raw []byte, signatureHeader string) (order.Event, error) {
	if err := a.client.Verify(raw, signatureHeader); err != nil {
		return order.Event{}, err
	}

	var wh deferredWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return order.Event{}, fmt.Errorf("%w: %v", domainErrors.ErrUnrecognizedEvent, err)
	}
	ev, err := a.statusEvent(wh.Status)
	if err != nil {
		return order.Event{}, err
	}
	ev.ExternalID = wh.TransactionID
	ev.EventID = wh.EventID
	ev.OrderID = parseOrderID(wh.ShopTransactionID)
	if wh.OccurredAt > 0 {
		ev.OccurredAt = time.Unix(wh.OccurredAt, 0).UTC()
	}
	return ev, nil
}

// TranslateCallback verifies and translates the signed return redirect.
func (a *DeferredAdapter) TranslateCallback(query url.Values) (order.Event, error) {
	signature := query.Get(CallbackSignatureParam)
	signed := url.Values{}
	for k, v := range query {
		if k != CallbackSignatureParam {
			signed[k] = v
		}
	}
	// Encode sorts by key, which makes the signed form canonical.
	if err := a.client.VerifyCallback(a.callbackPath, []byte(signed.Encode()), signature); err != nil {
		return order.Event{}, err
	}

	ev, err := a.statusEvent(query.Get("result"))
	if err != nil {
		return order.Event{}, err
	}
	ev.ExternalID = query.Get("transaction_id")
	ev.OrderID = parseOrderID(query.Get("shop_transaction_id"))
	return ev, nil
}

func (a *DeferredAdapter) PollStatus(ctx context.Context, h Handle) (order.Event, error) {
	if h.ExternalID == "" {
		return order.Event{}, domainErrors.ErrNoProviderHandle
	}
	var tx deferredTransaction
	if err := a.client.Do(ctx, http.MethodGet, "/v1/transactions/"+h.ExternalID, nil, &tx); err != nil {
		return order.Event{}, err
	}
	ev, err := a.statusEvent(tx.Status)
	if err != nil {
		return order.Event{}, err
	}
	ev.ExternalID = h.ExternalID
	ev.OrderID = parseOrderID(tx.ShopTransactionID)
	return ev, nil
}

// Void cancels the pay-later transaction before it is billed.
func (a *DeferredAdapter) Void(ctx context.Context, h Handle) error {
	if h.ExternalID == "" {
		return domainErrors.ErrNoProviderHandle
	}
	return a.client.Do(ctx, http.MethodPost, "/v1/transactions/"+h.ExternalID+"/cancel", nil, nil)
}

func (a *DeferredAdapter) statusEvent(status string) (order.Event, error) {
	ev := order.Event{Provider: order.ProviderDeferred, OccurredAt: a.now().UTC()}
	switch status {
	case "pending", "hold":
		ev.Kind = order.EventAwaitingPayment
	case "authorized", "ok":
		ev.Kind, ev.PaymentStatus = order.EventAuthorized, order.PaymentAuthorized
	case "captured", "billed":
		ev.Kind, ev.PaymentStatus = order.EventCaptured, order.PaymentCaptured
	case "ng", "failed":
		ev.Kind, ev.PaymentStatus = order.EventPaymentFailed, order.PaymentFailed
	case "expired":
		ev.Kind, ev.PaymentStatus = order.EventExpired, order.PaymentExpired
	case "canceled":
		ev.Kind = order.EventCanceled
	case "refunded":
		ev.Kind, ev.PaymentStatus = order.EventRefunded, order.PaymentRefunded
	default:
		return order.Event{}, fmt.Errorf("%w: deferred status %q", domainErrors.ErrUnrecognizedEvent, status)
	}
	return ev, nil
}
