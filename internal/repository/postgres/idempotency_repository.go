package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/idempotency"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository implements idempotency.Store with a unique-key insert.
// Called inside a TxManager transaction the claim commits or rolls back with
// the rest of the work.
type IdempotencyRepository struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

func NewIdempotencyRepository(pool *pgxpool.Pool, retention time.Duration) *IdempotencyRepository {
	if retention <= 0 {
		retention = idempotency.DefaultRetention
	}
	return &IdempotencyRepository{pool: pool, retention: retention}
}

func (r *IdempotencyRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *IdempotencyRepository) TryClaim(ctx context.Context, key, summary string) (bool, error) {
	now := time.Now().UTC()
	// an expired record is overwritten in place so the key can be claimed again
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO idempotency_records (key, result_summary, applied_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		   SET result_summary = EXCLUDED.result_summary,
		       applied_at = EXCLUDED.applied_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE idempotency_records.expires_at < EXCLUDED.applied_at`,
		key, summary, now, now.Add(r.retention),
	)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns the live record for key, or nil when it was never claimed or has expired.
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	rec := &idempotency.Record{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT key, result_summary, applied_at, expires_at
		 FROM idempotency_records WHERE key = $1 AND expires_at > NOW()`, key,
	).Scan(&rec.Key, &rec.ResultSummary, &rec.AppliedAt, &rec.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	return rec, nil
}

// Cleanup removes records past retention and returns how many were deleted.
func (r *IdempotencyRepository) Cleanup(ctx context.Context) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}
