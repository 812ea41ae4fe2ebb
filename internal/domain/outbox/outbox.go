// Package outbox holds side-effect intents written in the same transaction as
// the order transition that caused them. The worker publishes them to the
// notification stream afterwards, so a rolled-back transition never emails
// and never touches stock.
package outbox

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

const (
	AggregateOrder = "order"

	// EventOrderConfirmation asks the dispatcher to send the order confirmation email.
	EventOrderConfirmation = "order.confirmation"

	// EventOrderConsumption asks the worker to decrement stock and redeem the
	// coupon of a paid order.
	EventOrderConsumption = "order.consumption"
)

const (
	DefaultMaxRetries = 5

	// MaxErrorLength bounds LastError as stored.
	MaxErrorLength = 500
)

type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       map[string]any
	Status        Status
	RetryCount    int
	MaxRetries    int
	LastError     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func NewEntry(aggregateType string, aggregateID uuid.UUID, eventType string, payload map[string]any) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		MaxRetries:    DefaultMaxRetries,
		CreatedAt:     time.Now().UTC(),
	}
}

// Exhausted reports whether the entry has used all of its publish attempts.
func (e *Entry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// Published marks the entry delivered to the stream at t.
func (e *Entry) Published(t time.Time) {
	e.Status = StatusPublished
	e.PublishedAt = &t
}

// RecordFailure counts one failed publish. The entry stays pending until its
// retries run out, then it is parked as failed for an operator.
func (e *Entry) RecordFailure(reason string) {
	e.RetryCount++
	e.LastError = TruncateError(reason)
	if e.Exhausted() {
		e.Status = StatusFailed
	}
}

// TruncateError cuts reason to MaxErrorLength bytes without splitting a rune.
func TruncateError(reason string) string {
	if len(reason) <= MaxErrorLength {
		return reason
	}
	cut := MaxErrorLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
