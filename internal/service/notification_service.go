package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	"github.com/cassiomorais/orderrecon/internal/notification"
	"github.com/rs/zerolog"
)

// Producer appends an outbox entry to the notification stream.
type Producer interface {
	Publish(ctx context.Context, entry *outbox.Entry) error
}

// OutboxPublisher moves committed outbox entries onto the notification stream.
type OutboxPublisher struct {
	outbox    outbox.Repository
	producer  Producer
	txManager TransactionManager
	logger    zerolog.Logger
}

func NewOutboxPublisher(outboxRepo outbox.Repository, producer Producer, txManager TransactionManager, logger zerolog.Logger) *OutboxPublisher {
	return &OutboxPublisher{outbox: outboxRepo, producer: producer, txManager: txManager, logger: logger}
}

// PublishPending publishes up to limit pending entries and returns how many
// made it onto the stream. Entries that fail stay pending until their
// retries run out.
func (p *OutboxPublisher) PublishPending(ctx context.Context, limit int) (int, error) {
	published := 0
	err := p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := p.outbox.GetPending(txCtx, limit)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := p.producer.Publish(txCtx, entry); err != nil {
				p.logger.Error().Err(err).Str("entry_id", entry.ID.String()).Msg("Failed to publish outbox entry")
				if markErr := p.outbox.MarkFailed(txCtx, entry.ID, err.Error()); markErr != nil {
					p.logger.Error().Err(markErr).Str("entry_id", entry.ID.String()).Msg("Failed to mark entry as failed")
				}
				continue
			}
			if err := p.outbox.MarkPublished(txCtx, entry.ID); err != nil {
				return fmt.Errorf("mark published %s: %w", entry.ID, err)
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		p.logger.Debug().Int("count", published).Msg("Published outbox entries")
	}
	return published, nil
}

// Purge deletes entries published longer than retention ago.
func (p *OutboxPublisher) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := p.outbox.PurgePublished(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info().Int64("purged", n).Msg("Purged published outbox entries")
	}
	return n, nil
}

// DeliveryClaims guards a notification so it is sent at most once.
type DeliveryClaims interface {
	TryClaim(ctx context.Context, key, summary string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Notification is one decoded notification stream message.
type Notification struct {
	EntryID   string
	EventType string
	Payload   map[string]any
}

// Dispatcher sends notifications read from the stream.
type Dispatcher struct {
	claims  DeliveryClaims
	mailer  notification.Mailer
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewDispatcher(claims DeliveryClaims, mailer notification.Mailer, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{claims: claims, mailer: mailer, metrics: metrics, logger: logger}
}

// Handle delivers n. A nil return means the message can be acknowledged:
// it was sent now or earlier. Errors wrapping notification.ErrPermanent
// should be dead-lettered; any other error leaves the message for redelivery.
func (d *Dispatcher) Handle(ctx context.Context, n Notification) error {
	if n.EventType != outbox.EventOrderConfirmation {
		d.metrics.Notification("unknown", "dead_letter")
		return fmt.Errorf("%w: unsupported event type %q", notification.ErrPermanent, n.EventType)
	}
	template, _ := n.Payload["template"].(string)
	orderID, _ := n.Payload["order_id"].(string)
	email, _ := n.Payload["email"].(string)
	if template == "" || orderID == "" || email == "" {
		d.metrics.Notification(template, "dead_letter")
		return fmt.Errorf("%w: incomplete payload for entry %s", notification.ErrPermanent, n.EntryID)
	}

	msg, err := notification.Render(template, email, n.Payload)
	if err != nil {
		d.metrics.Notification(template, "dead_letter")
		return err
	}
	key := "sent:" + template + ":" + orderID
	msg.DedupeKey = key

	claimed, err := d.claims.TryClaim(ctx, key, n.EntryID)
	if err != nil {
		return err
	}
	if !claimed {
		d.metrics.Notification(template, "duplicate")
		d.logger.Debug().Str("order_id", orderID).Str("template", template).Msg("Notification already sent")
		return nil
	}

	if err := d.mailer.Send(ctx, msg); err != nil {
		if relErr := d.claims.Release(ctx, key); relErr != nil {
			d.logger.Error().Err(relErr).Str("key", key).Msg("Failed to release delivery claim")
		}
		status := "retry"
		if errors.Is(err, notification.ErrPermanent) {
			status = "dead_letter"
		}
		d.metrics.Notification(template, status)
		return err
	}

	d.metrics.Notification(template, "sent")
	d.logger.Info().Str("order_id", orderID).Str("template", template).Msg("Notification sent")
	return nil
}
