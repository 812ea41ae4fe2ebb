package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	"github.com/cassiomorais/orderrecon/internal/notification"
	"github.com/cassiomorais/orderrecon/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	published []*outbox.Entry
	failFor   map[uuid.UUID]bool
}

func (p *mockProducer) Publish(_ context.Context, entry *outbox.Entry) error {
	if p.failFor[entry.ID] {
		return errors.New("stream unavailable")
	}
	p.published = append(p.published, entry)
	return nil
}

type mockClaims struct {
	mu       sync.Mutex
	claims   map[string]bool
	released []string
}

func newMockClaims() *mockClaims {
	return &mockClaims{claims: make(map[string]bool)}
}

func (c *mockClaims) TryClaim(_ context.Context, key, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claims[key] {
		return false, nil
	}
	c.claims[key] = true
	return true, nil
}

func (c *mockClaims) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, key)
	c.released = append(c.released, key)
	return nil
}

type mockMailer struct {
	sent []notification.Message
	err  error
}

func (m *mockMailer) Send(_ context.Context, msg notification.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func confirmationEntry() *outbox.Entry {
	id := uuid.New()
	return outbox.NewEntry(outbox.AggregateOrder, id, outbox.EventOrderConfirmation, map[string]any{
		"order_id": id.String(),
		"template": TemplateOrderConfirmation,
		"email":    "customer@example.com",
		"amount":   "5000 JPY",
	})
}

func TestOutboxPublisher_PublishPending(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	ok, failing := confirmationEntry(), confirmationEntry()
	require.NoError(t, repo.Insert(context.Background(), ok))
	require.NoError(t, repo.Insert(context.Background(), failing))

	producer := &mockProducer{failFor: map[uuid.UUID]bool{failing.ID: true}}
	pub := NewOutboxPublisher(repo, producer, testutil.NewMockTransactionManager(), zerolog.Nop())

	n, err := pub.PublishPending(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, outbox.StatusPublished, ok.Status)
	assert.Equal(t, outbox.StatusPending, failing.Status)
	assert.Equal(t, 1, failing.RetryCount)
	assert.Equal(t, "stream unavailable", failing.LastError)
}

func TestOutboxPublisher_Purge(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	old, recent := confirmationEntry(), confirmationEntry()
	require.NoError(t, repo.Insert(context.Background(), old))
	require.NoError(t, repo.Insert(context.Background(), recent))
	pub := NewOutboxPublisher(repo, &mockProducer{}, testutil.NewMockTransactionManager(), zerolog.Nop())
	_, err := pub.PublishPending(context.Background(), 10)
	require.NoError(t, err)
	longAgo := time.Now().Add(-48 * time.Hour)
	old.PublishedAt = &longAgo

	n, err := pub.Purge(context.Background(), 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, repo.Entries(), 1)
	assert.Equal(t, recent.ID, repo.Entries()[0].ID)
}

func TestOutboxPublisher_FailsAfterMaxRetries(t *testing.T) {
	repo := testutil.NewMockOutboxRepository()
	entry := confirmationEntry()
	require.NoError(t, repo.Insert(context.Background(), entry))
	producer := &mockProducer{failFor: map[uuid.UUID]bool{entry.ID: true}}
	pub := NewOutboxPublisher(repo, producer, testutil.NewMockTransactionManager(), zerolog.Nop())

	for i := 0; i < entry.MaxRetries; i++ {
		_, err := pub.PublishPending(context.Background(), 10)
		require.NoError(t, err)
	}

	assert.Equal(t, outbox.StatusFailed, entry.Status)
	pending, err := repo.GetPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func notificationFor(entry *outbox.Entry) Notification {
	return Notification{EntryID: entry.ID.String(), EventType: entry.EventType, Payload: entry.Payload}
}

func TestDispatcher_SendsOnce(t *testing.T) {
	mailer := &mockMailer{}
	d := NewDispatcher(newMockClaims(), mailer, nil, zerolog.Nop())
	n := notificationFor(confirmationEntry())

	require.NoError(t, d.Handle(context.Background(), n))
	require.NoError(t, d.Handle(context.Background(), n))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "customer@example.com", mailer.sent[0].To)
	assert.Contains(t, mailer.sent[0].Text, "5000 JPY")
	assert.NotEmpty(t, mailer.sent[0].DedupeKey)
}

func TestDispatcher_TransientFailureReleasesClaim(t *testing.T) {
	claims := newMockClaims()
	mailer := &mockMailer{err: errors.New("connection refused")}
	d := NewDispatcher(claims, mailer, nil, zerolog.Nop())
	n := notificationFor(confirmationEntry())

	err := d.Handle(context.Background(), n)
	require.Error(t, err)
	assert.False(t, errors.Is(err, notification.ErrPermanent))
	assert.Len(t, claims.released, 1)

	mailer.err = nil
	require.NoError(t, d.Handle(context.Background(), n))
	assert.Len(t, mailer.sent, 1)
}

func TestDispatcher_PermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		n    Notification
	}{
		{"unknown event type", Notification{EntryID: "e1", EventType: "order.shipped"}},
		{"missing email", Notification{EntryID: "e2", EventType: outbox.EventOrderConfirmation, Payload: map[string]any{
			"order_id": "o1", "template": TemplateOrderConfirmation,
		}}},
		{"unknown template", Notification{EntryID: "e3", EventType: outbox.EventOrderConfirmation, Payload: map[string]any{
			"order_id": "o1", "template": "nope", "email": "a@example.com",
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mailer := &mockMailer{}
			d := NewDispatcher(newMockClaims(), mailer, nil, zerolog.Nop())

			err := d.Handle(context.Background(), tt.n)

			assert.ErrorIs(t, err, notification.ErrPermanent)
			assert.Empty(t, mailer.sent)
		})
	}
}
