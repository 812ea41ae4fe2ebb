// Package inventory applies the stock and coupon side effects of a paid order.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/google/uuid"
)

var ErrInvalidIntent = errors.New("invalid consumption intent")

// Repository holds stock levels and coupon redemption counts.
type Repository interface {
	// Decrement lowers on-hand stock for sku and returns what remains.
	// tracked is false when the SKU has no stock row.
	Decrement(ctx context.Context, sku string, quantity int) (remaining int, tracked bool, err error)

	// RedeemCoupon counts one redemption of code and reports whether the
	// coupon's limit is now exceeded. known is false for unknown codes.
	RedeemCoupon(ctx context.Context, code string) (overLimit, known bool, err error)
}

type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Intent is what a paid order consumes.
type Intent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CouponCode string    `json:"coupon_code,omitempty"`
	Items      []Item    `json:"items"`
}

// IntentFor builds the consumption intent for o.
func IntentFor(o *order.Order) Intent {
	items := make([]Item, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, Item{SKU: li.SKU, Quantity: li.Quantity})
	}
	return Intent{OrderID: o.ID, CouponCode: o.CouponCode, Items: items}
}

// Payload renders the intent as an outbox payload.
func (in Intent) Payload() map[string]any {
	items := make([]any, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, map[string]any{"sku": it.SKU, "quantity": it.Quantity})
	}
	p := map[string]any{
		"order_id": in.OrderID.String(),
		"items":    items,
	}
	if in.CouponCode != "" {
		p["coupon_code"] = in.CouponCode
	}
	return p
}

// ParseIntent reads an intent back from a payload, either as written by
// Payload or as decoded from the stream.
func ParseIntent(payload map[string]any) (Intent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if in.OrderID == uuid.Nil {
		return Intent{}, fmt.Errorf("%w: missing order_id", ErrInvalidIntent)
	}
	for _, it := range in.Items {
		if it.SKU == "" || it.Quantity <= 0 {
			return Intent{}, fmt.Errorf("%w: bad item %q x %d", ErrInvalidIntent, it.SKU, it.Quantity)
		}
	}
	return in, nil
}
