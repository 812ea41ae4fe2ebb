package main

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/orderrecon/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/orderrecon/internal/infrastructure/redis"
	"github.com/cassiomorais/orderrecon/internal/notification"
	"github.com/cassiomorais/orderrecon/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// jobLocker runs fn only when this instance holds the named lock.
type jobLocker interface {
	Run(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error)
}

// periodicJob is one unit of scheduled work. It reports how many items it
// handled so quiet ticks stay out of the logs.
type periodicJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int, error)
}

// runPeriodic runs job every interval until ctx is done. Errors are logged
// and counted; they never stop the loop.
func runPeriodic(ctx context.Context, locker jobLocker, job periodicJob, metrics *observability.Metrics, logger zerolog.Logger) error {
	if job.interval <= 0 {
		logger.Warn().Str("job", job.name).Msg("Job disabled, no interval configured")
		return nil
	}
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		tick(ctx, locker, job, metrics, logger)
	}
}

func tick(ctx context.Context, locker jobLocker, job periodicJob, metrics *observability.Metrics, logger zerolog.Logger) {
	var handled int
	ran, err := locker.Run(ctx, "job:"+job.name, func(ctx context.Context) error {
		var runErr error
		handled, runErr = job.run(ctx)
		return runErr
	})
	switch {
	case err != nil && ctx.Err() == nil:
		metrics.JobRun(job.name, "error")
		logger.Error().Err(err).Str("job", job.name).Msg("Job failed")
	case err != nil:
	case !ran:
		metrics.JobRun(job.name, "skipped")
	default:
		metrics.JobRun(job.name, "ok")
		if handled > 0 {
			logger.Info().Str("job", job.name).Int("handled", handled).Msg("Job finished")
		}
	}
}

type streamReader interface {
	Read(ctx context.Context) ([]redis.XMessage, error)
	Ack(ctx context.Context, messageID string) error
	ReclaimIdle(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error)
}

type deadLetterer interface {
	PublishToDLQ(ctx context.Context, msg infraRedis.Message, reason string) error
}

type notificationHandler interface {
	Handle(ctx context.Context, n service.Notification) error
}

// notificationLoop feeds the notification stream to the dispatcher.
type notificationLoop struct {
	reader      streamReader
	dlq         deadLetterer
	handler     notificationHandler
	reclaimIdle time.Duration
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func (l *notificationLoop) run(ctx context.Context) error {
	lastReclaim := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		if l.reclaimIdle > 0 && time.Since(lastReclaim) >= l.reclaimIdle {
			lastReclaim = time.Now()
			stale, err := l.reader.ReclaimIdle(ctx, l.reclaimIdle)
			if err != nil {
				l.logger.Error().Err(err).Msg("Failed to reclaim idle messages")
			}
			for _, m := range stale {
				l.process(ctx, m)
			}
		}

		msgs, err := l.reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error().Err(err).Msg("Failed to read from stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, m := range msgs {
			l.process(ctx, m)
		}
	}
}

// process acks delivered and dead-lettered messages. Transient failures stay
// pending so a later reclaim retries them.
func (l *notificationLoop) process(ctx context.Context, m redis.XMessage) {
	start := time.Now()
	msg, err := infraRedis.DecodeMessage(m)
	if err == nil {
		err = l.handler.Handle(ctx, service.Notification{
			EntryID:   msg.EntryID,
			EventType: msg.EventType,
			Payload:   msg.Payload,
		})
	} else {
		err = errors.Join(notification.ErrPermanent, err)
	}

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, notification.ErrPermanent):
		status = "dead_letter"
		if dlqErr := l.dlq.PublishToDLQ(ctx, msg, err.Error()); dlqErr != nil {
			l.logger.Error().Err(dlqErr).Str("message_id", m.ID).Msg("Failed to dead-letter message")
			l.metrics.MessageProcessed(infraRedis.NotificationStream, "retry", time.Since(start).Seconds())
			return
		}
		l.logger.Warn().Err(err).Str("message_id", m.ID).Str("entry_id", msg.EntryID).Msg("Notification dead-lettered")
	default:
		l.logger.Warn().Err(err).Str("message_id", m.ID).Str("entry_id", msg.EntryID).Msg("Notification delivery failed, will retry")
		l.metrics.MessageProcessed(infraRedis.NotificationStream, "retry", time.Since(start).Seconds())
		return
	}

	if err := l.reader.Ack(ctx, m.ID); err != nil {
		l.logger.Error().Err(err).Str("message_id", m.ID).Msg("Failed to ack message")
	}
	l.metrics.MessageProcessed(infraRedis.NotificationStream, status, time.Since(start).Seconds())
}
