package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	"github.com/redis/go-redis/v9"
)

const (
	NotificationStream = "notifications:outbound"
	DLQStream          = "notifications:dlq"
)

// StreamProducer publishes outbox entries to Redis streams.
type StreamProducer struct {
	client redis.Cmdable
}

func NewStreamProducer(client redis.Cmdable) *StreamProducer {
	return &StreamProducer{client: client}
}

// Publish appends an outbox entry to the notification stream.
func (p *StreamProducer) Publish(ctx context.Context, entry *outbox.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: NotificationStream,
		Values: map[string]any{
			"entry_id":     entry.ID.String(),
			"aggregate_id": entry.AggregateID.String(),
			"event_type":   entry.EventType,
			"payload":      string(payload),
			"timestamp":    time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// PublishToDLQ parks a message the dispatcher could not deliver.
func (p *StreamProducer) PublishToDLQ(ctx context.Context, msg Message, reason string) error {
	_, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: map[string]any{
			"entry_id":     msg.EntryID,
			"aggregate_id": msg.AggregateID,
			"event_type":   msg.EventType,
			"payload":      msg.RawPayload,
			"reason":       reason,
			"timestamp":    time.Now().Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}
	return nil
}

// Message is a decoded notification stream entry.
type Message struct {
	ID          string
	EntryID     string
	AggregateID string
	EventType   string
	RawPayload  string
	Payload     map[string]any
}

// DecodeMessage converts a raw stream message.
func DecodeMessage(m redis.XMessage) (Message, error) {
	msg := Message{ID: m.ID}
	msg.EntryID, _ = m.Values["entry_id"].(string)
	msg.AggregateID, _ = m.Values["aggregate_id"].(string)
	msg.EventType, _ = m.Values["event_type"].(string)
	msg.RawPayload, _ = m.Values["payload"].(string)
	if msg.RawPayload != "" {
		if err := json.Unmarshal([]byte(msg.RawPayload), &msg.Payload); err != nil {
			return msg, fmt.Errorf("decode message %s: %w", m.ID, err)
		}
	}
	return msg, nil
}

// StreamConsumer reads a stream as a member of a consumer group.
type StreamConsumer struct {
	client        redis.Cmdable
	stream        string
	group         string
	consumer      string
	batchSize     int64
	blockDuration time.Duration
}

func NewStreamConsumer(
	client redis.Cmdable,
	stream string,
	group string,
	consumer string,
	batchSize int64,
	blockDuration time.Duration,
) *StreamConsumer {
	return &StreamConsumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		batchSize:     batchSize,
		blockDuration: blockDuration,
	}
}

// CreateGroup creates the consumer group and the stream if missing.
func (c *StreamConsumer) CreateGroup(ctx context.Context) error {
	const busyGroupMsg = "BUSYGROUP"
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), busyGroupMsg) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Read blocks for up to the block duration for new messages.
func (c *StreamConsumer) Read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.batchSize,
		Block:    c.blockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

// Ack acknowledges a processed message.
func (c *StreamConsumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.stream, c.group, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// ReclaimIdle takes over messages another consumer read but never acked.
func (c *StreamConsumer) ReclaimIdle(ctx context.Context, minIdle time.Duration) ([]redis.XMessage, error) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim idle messages: %w", err)
	}
	return messages, nil
}
