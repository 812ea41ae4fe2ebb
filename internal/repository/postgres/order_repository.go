package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, idempotency_key, customer_id, customer_email, status, payment_status,
	amount_minor, currency, line_items, coupon_code, remote_void, version, created_at, updated_at`

// OrderRepository implements order.Repository using PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new order and its external references.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.IdempotencyKey, o.CustomerID, o.CustomerEmail, string(o.Status), string(o.PaymentStatus),
		o.Amount.Minor, o.Amount.Currency, items, o.CouponCode, string(o.RemoteVoid), o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return r.saveRefs(ctx, o)
}

// GetByID retrieves an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := r.scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return o, r.loadRefs(ctx, o)
}

// GetByIdempotencyKey retrieves the order created for a checkout request key.
func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	o, err := r.scanOrder(r.db(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1`, key))
	if err != nil {
		return nil, err
	}
	return o, r.loadRefs(ctx, o)
}

// GetByExternalRef resolves an order from a provider transaction id.
func (r *OrderRepository) GetByExternalRef(ctx context.Context, provider order.Provider, externalID string) (*order.Order, error) {
	var id uuid.UUID
	err := r.db(ctx).QueryRow(ctx,
		`SELECT order_id FROM order_external_refs WHERE provider = $1 AND external_id = $2`,
		string(provider), externalID,
	).Scan(&id)
	if err != nil {
		if isNoRows(err) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lookup external ref: %w", err)
	}
	return r.GetByID(ctx, id)
}

// Update writes the order if the stored version still equals expectedVersion.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, expectedVersion int64) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET
		  status=$1, payment_status=$2, coupon_code=$3, remote_void=$4,
		  version=version+1, updated_at=$5
		 WHERE id=$6 AND version=$7`,
		string(o.Status), string(o.PaymentStatus), o.CouponCode, string(o.RemoteVoid),
		o.UpdatedAt, o.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.NewTransitionRejected(
			fmt.Sprintf("order %s changed since version %d", o.ID, expectedVersion),
			domainErrors.ErrOptimisticLockFailed,
		)
	}
	o.Version = expectedVersion + 1
	return r.saveRefs(ctx, o)
}

// ListPendingOlderThan returns orders waiting on a provider since before cutoff.
func (r *OrderRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE (status IN ('pending_provider_a','pending_provider_b','pending_deferred')
		        OR (status = 'pending' AND payment_status = 'authorized'))
		   AND updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`, cutoff, limit)
}

// ListUnconfirmedVoids returns canceled orders whose provider void is unconfirmed.
func (r *OrderRepository) ListUnconfirmedVoids(ctx context.Context, limit int) ([]*order.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE remote_void = 'unconfirmed'
		 ORDER BY updated_at ASC
		 LIMIT $1`, limit)
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]*order.Order, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	var orders []*order.Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	for _, o := range orders {
		if err := r.loadRefs(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// AddEvent inserts an order audit event.
func (r *OrderRepository) AddEvent(ctx context.Context, event *order.AuditEvent) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO order_events (id, order_id, event_type, event_data, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		event.ID, event.OrderID, event.EventType, data,
	)
	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// GetEvents retrieves the audit trail of an order.
func (r *OrderRepository) GetEvents(ctx context.Context, orderID uuid.UUID) ([]*order.AuditEvent, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, order_id, event_type, event_data, created_at
		 FROM order_events WHERE order_id = $1 ORDER BY created_at ASC`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}
	defer rows.Close()

	var events []*order.AuditEvent
	for rows.Next() {
		e := &order.AuditEvent{}
		var data []byte
		if err := rows.Scan(&e.ID, &e.OrderID, &e.EventType, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(data, &e.EventData); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- scanning helpers ---

func (r *OrderRepository) scanOrder(s scanner) (*order.Order, error) {
	o := &order.Order{ExternalRefs: make(map[order.Provider]string)}
	var (
		status, paymentStatus, remoteVoid string
		items                             []byte
	)
	err := s.Scan(
		&o.ID, &o.IdempotencyKey, &o.CustomerID, &o.CustomerEmail, &status, &paymentStatus,
		&o.Amount.Minor, &o.Amount.Currency, &items, &o.CouponCode, &remoteVoid, &o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.RemoteVoid = order.RemoteVoid(remoteVoid)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.LineItems); err != nil {
			return nil, fmt.Errorf("unmarshal line items: %w", err)
		}
	}
	return o, nil
}

func (r *OrderRepository) loadRefs(ctx context.Context, o *order.Order) error {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT provider, external_id FROM order_external_refs WHERE order_id = $1`, o.ID)
	if err != nil {
		return fmt.Errorf("load external refs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var provider, externalID string
		if err := rows.Scan(&provider, &externalID); err != nil {
			return fmt.Errorf("scan external ref: %w", err)
		}
		o.ExternalRefs[order.Provider(provider)] = externalID
	}
	return rows.Err()
}

func (r *OrderRepository) saveRefs(ctx context.Context, o *order.Order) error {
	for provider, externalID := range o.ExternalRefs {
		if externalID == "" {
			continue
		}
		_, err := r.db(ctx).Exec(ctx,
			`INSERT INTO order_external_refs (order_id, provider, external_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (order_id, provider) DO UPDATE SET external_id = EXCLUDED.external_id`,
			o.ID, string(provider), externalID,
		)
		if err != nil {
			return fmt.Errorf("save external ref %s: %w", provider, err)
		}
	}
	return nil
}
