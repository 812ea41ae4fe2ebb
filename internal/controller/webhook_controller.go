package controller

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBodySize = 1 << 20

const defaultSignatureHeader = "X-Signature"

// WebhookHandler applies provider notifications.
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, provider order.Provider, raw []byte, signature string) (*service.WebhookResult, error)
	HandleDeferredCallback(ctx context.Context, query url.Values) (*service.WebhookResult, error)
}

// WebhookController receives provider webhooks and the deferred provider's
// browser callback.
type WebhookController struct {
	handler          WebhookHandler
	signatureHeaders map[order.Provider]string
	storefrontURL    string
}

// NewWebhookController creates a WebhookController. signatureHeaders names
// the header each provider signs with; unlisted providers use X-Signature.
func NewWebhookController(handler WebhookHandler, signatureHeaders map[order.Provider]string, storefrontURL string) *WebhookController {
	return &WebhookController{handler: handler, signatureHeaders: signatureHeaders, storefrontURL: storefrontURL}
}

// Receive handles POST /webhooks/{provider}. Every authentic notification
// answers 200 with its outcome, unknown orders included, so the provider
// stops redelivering. Signature failures answer 401.
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	provider := order.Provider(chi.URLParam(r, "provider"))

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable body", Code: "invalid_body"})
		return
	}

	result, err := h.handler.HandleWebhook(r.Context(), provider, raw, r.Header.Get(h.signatureHeader(provider)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Outcome: string(result.Outcome)})
}

// DeferredCallback handles GET /callbacks/deferred and sends the customer
// back to the storefront once the signed result is applied.
func (h *WebhookController) DeferredCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.handler.HandleDeferredCallback(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, h.returnURL(result), http.StatusFound)
}

func (h *WebhookController) signatureHeader(provider order.Provider) string {
	if name, ok := h.signatureHeaders[provider]; ok && name != "" {
		return name
	}
	return defaultSignatureHeader
}

func (h *WebhookController) returnURL(result *service.WebhookResult) string {
	u, err := url.Parse(h.storefrontURL)
	if err != nil || result == nil || result.Order == nil {
		return h.storefrontURL
	}
	q := u.Query()
	q.Set("order_id", result.Order.ID.String())
	q.Set("status", string(result.Order.Status))
	u.RawQuery = q.Encode()
	return u.String()
}
