package service

import "context"

// TransactionManager scopes the writes that must land together: an event's
// idempotency claim, the order or subscription update, its audit row and any
// outbox entry. Repositories called with the ctx passed to fn join the
// transaction; an error from fn rolls all of them back, including the claim,
// so a failed event can be retried.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
