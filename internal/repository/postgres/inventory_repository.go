package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InventoryRepository implements inventory.Repository using PostgreSQL.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

func (r *InventoryRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Decrement never refuses: the order is already paid, so stock may go negative.
func (r *InventoryRepository) Decrement(ctx context.Context, sku string, quantity int) (int, bool, error) {
	var remaining int
	err := r.db(ctx).QueryRow(ctx,
		`UPDATE inventory_items SET on_hand = on_hand - $2, updated_at = NOW()
		 WHERE sku = $1
		 RETURNING on_hand`, sku, quantity,
	).Scan(&remaining)
	if err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("decrement %s: %w", sku, err)
	}
	return remaining, true, nil
}

func (r *InventoryRepository) RedeemCoupon(ctx context.Context, code string) (bool, bool, error) {
	var overLimit bool
	err := r.db(ctx).QueryRow(ctx,
		`UPDATE coupons SET redeemed = redeemed + 1, updated_at = NOW()
		 WHERE code = $1
		 RETURNING max_redemptions IS NOT NULL AND redeemed > max_redemptions`, code,
	).Scan(&overLimit)
	if err != nil {
		if isNoRows(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("redeem coupon %s: %w", code, err)
	}
	return overLimit, true, nil
}
