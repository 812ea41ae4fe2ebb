package accesscode

import (
	"context"
	"time"
)

// Store keeps at most one live code per subject.
type Store interface {
	// Save replaces any code stored for the subject. ttl bounds the record's lifetime.
	Save(ctx context.Context, code *AccessCode, ttl time.Duration) error

	// Get returns the subject's code or nil when none is stored.
	Get(ctx context.Context, subjectID string) (*AccessCode, error)

	// ReserveAttempt atomically counts one verification attempt. A reservation
	// that exceeds the code's budget deletes the code and reports exhaustion.
	ReserveAttempt(ctx context.Context, subjectID string) (Reservation, error)

	// Consume atomically deletes the code if it still has codeHash and
	// reports whether this call removed it.
	Consume(ctx context.Context, subjectID, codeHash string) (bool, error)

	// Delete removes the subject's code.
	Delete(ctx context.Context, subjectID string) error
}

// Reservation is the outcome of Store.ReserveAttempt.
type Reservation int

const (
	// Reserved means the attempt fits the budget and may be checked.
	Reserved Reservation = iota
	// ReservationGone means no code is stored for the subject.
	ReservationGone
	// ReservationExhausted means the budget was spent and the code deleted.
	ReservationExhausted
)

// Limiter counts issuance requests per subject in a fixed window.
type Limiter interface {
	// Allow records one hit and reports whether the subject is within limit.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Sender delivers a plaintext code out of band.
type Sender interface {
	SendAccessCode(ctx context.Context, subjectID, code string, expiresAt time.Time) error
}
