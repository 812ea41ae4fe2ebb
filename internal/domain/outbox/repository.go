package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert stores an entry. Call it in the transaction of the state change
	// that produced it.
	Insert(ctx context.Context, entry *Entry) error

	// GetPending locks and returns up to limit pending entries, oldest first.
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed records reason and counts one failed attempt. The entry
	// becomes failed once its retries run out.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// PurgePublished deletes entries published before cutoff.
	PurgePublished(ctx context.Context, cutoff time.Time) (int64, error)
}
