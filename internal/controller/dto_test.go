package controller

import (
	"testing"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOrder_AmountByCurrencyExponent(t *testing.T) {
	tests := []struct {
		currency string
		minor    int64
		want     string
	}{
		{"JPY", 5000, "5000"},
		{"USD", 1999, "19.99"},
		{"KWD", 12345, "12.345"},
	}
	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			o, err := order.NewOrder("key", "cust", "c@example.com", tt.currency,
				[]order.LineItem{{SKU: "s", Name: "n", Quantity: 1, UnitPrice: tt.minor}})
			require.NoError(t, err)

			resp := FromOrder(o)

			assert.Equal(t, tt.want, resp.Amount)
			assert.Equal(t, tt.minor, resp.AmountMinor)
			assert.Empty(t, resp.RemoteVoid)
			assert.Nil(t, resp.ExternalRefs)
		})
	}
}

func TestFromOrder_RefsAndVoid(t *testing.T) {
	o, err := order.NewOrder("key", "cust", "c@example.com", "JPY",
		[]order.LineItem{{SKU: "s", Name: "n", Quantity: 2, UnitPrice: 2500}})
	require.NoError(t, err)
	o.ExternalRefs[order.ProviderQRA] = "qr-123"
	o.RemoteVoid = order.RemoteVoidUnconfirmed

	resp := FromOrder(o)

	assert.Equal(t, map[string]string{"qr_a": "qr-123"}, resp.ExternalRefs)
	assert.Equal(t, "unconfirmed", resp.RemoteVoid)
}

func TestFromHandle(t *testing.T) {
	assert.Nil(t, FromHandle(nil))

	resp := FromHandle(&providers.Handle{Provider: order.ProviderQRA, ExternalID: "qr-1", QRCode: "wallet://pay/qr-1"})
	assert.Equal(t, "qr_a", resp.Provider)
	assert.Nil(t, resp.ExpiresAt)

	exp := time.Now().Add(time.Minute)
	resp = FromHandle(&providers.Handle{Provider: order.ProviderQRA, ExternalID: "qr-1", ExpiresAt: exp})
	require.NotNil(t, resp.ExpiresAt)
	assert.True(t, exp.Equal(*resp.ExpiresAt))
}

func TestCreateOrderRequest_Validation(t *testing.T) {
	item := LineItemRequest{SKU: "sku-1", Name: "Tea", Quantity: 1, UnitPrice: 500}
	tests := []struct {
		name    string
		req     CreateOrderRequest
		wantErr bool
	}{
		{"valid", CreateOrderRequest{Currency: "JPY", LineItems: []LineItemRequest{item}}, false},
		{"valid with provider", CreateOrderRequest{Currency: "JPY", LineItems: []LineItemRequest{item}, Provider: "qr_a"}, false},
		{"lowercase currency", CreateOrderRequest{Currency: "jpy", LineItems: []LineItemRequest{item}}, true},
		{"no items", CreateOrderRequest{Currency: "JPY"}, true},
		{"unknown provider", CreateOrderRequest{Currency: "JPY", LineItems: []LineItemRequest{item}, Provider: "paypal"}, true},
		{"zero quantity", CreateOrderRequest{Currency: "JPY", LineItems: []LineItemRequest{{SKU: "s", Name: "n", UnitPrice: 1}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
