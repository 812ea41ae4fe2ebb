package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/pkg/signer"
	"github.com/google/uuid"
)

// MockAdapter simulates a provider for sandbox deployments and tests. It
// keeps handle states in memory so polling reflects what was set.
type MockAdapter struct {
	name        order.Provider
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0
	voidErr     error
	verifier    *signer.Signer
	policy      signer.VerificationPolicy

	mu     sync.Mutex
	states map[string]order.Event
	voided map[string]bool
}

type MockOption func(*MockAdapter)

func WithFailureRate(rate float64) MockOption {
	return func(p *MockAdapter) { p.failureRate = rate }
}

func WithLatency(d time.Duration) MockOption {
	return func(p *MockAdapter) { p.latency = d }
}

func WithTimeoutRate(rate float64) MockOption {
	return func(p *MockAdapter) { p.timeoutRate = rate }
}

// WithVoidError makes every Void call fail with err.
func WithVoidError(err error) MockOption {
	return func(p *MockAdapter) { p.voidErr = err }
}

// WithWebhookSigner verifies inbound mock webhooks with s.
func WithWebhookSigner(s *signer.Signer, policy signer.VerificationPolicy) MockOption {
	return func(p *MockAdapter) {
		p.verifier = s
		p.policy = policy
	}
}

func NewMockAdapter(name order.Provider, opts ...MockOption) *MockAdapter {
	p := &MockAdapter{
		name:    name,
		latency: 10 * time.Millisecond,
		policy:  signer.PolicyNever,
		states:  make(map[string]order.Event),
		voided:  make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockAdapter) Name() order.Provider { return p.name }

func (p *MockAdapter) simulate(ctx context.Context) error {
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domainErrors.ErrProviderTimeout, ctx.Err())
	}
	if rand.Float64() < p.timeoutRate {
		return domainErrors.ErrProviderTimeout
	}
	if rand.Float64() < p.failureRate {
		return fmt.Errorf("%w: %s simulated failure", domainErrors.ErrProviderRejected, p.name)
	}
	return nil
}

func (p *MockAdapter) Initiate(ctx context.Context, o *order.Order, amount order.Amount) (*Handle, error) {
	if err := p.simulate(ctx); err != nil {
		return nil, err
	}

	externalID := fmt.Sprintf("%s_%s", p.name, uuid.New().String()[:8])
	ev := order.Event{
		Kind:       order.EventAwaitingPayment,
		Provider:   p.name,
		OrderID:    o.ID,
		ExternalID: externalID,
		OccurredAt: time.Now().UTC(),
	}
	if p.name == order.ProviderCard {
		ev.Kind, ev.PaymentStatus = order.EventCaptured, order.PaymentCaptured
	}

	p.mu.Lock()
	p.states[externalID] = ev
	p.mu.Unlock()

	return &Handle{
		Provider:    p.name,
		ExternalID:  externalID,
		RedirectURL: "https://sandbox.example/pay/" + externalID,
		Event:       ev,
	}, nil
}

// MockWebhook is the JSON body the mock provider accepts on its webhook.
type MockWebhook struct {
	EventID       string              `json:"event_id"`
	ExternalID    string              `json:"external_id"`
	OrderID       string              `json:"order_id"`
	Kind          order.EventKind     `json:"kind"`
	PaymentStatus order.PaymentStatus `json:"payment_status"`
}

func (p *MockAdapter) TranslateWebhook(raw []byte, signatureHeader string) (order.Event, error) {
	if err := p.policy.Check(p.verifier, "POST", "/webhooks/"+string(p.name), contentTypeJSON, signatureHeader, raw); err != nil {
		return order.Event{}, err
	}

	var wh MockWebhook
	if err := json.Unmarshal(raw, &wh); err != nil {
		return order.Event{}, fmt.Errorf("%w: %v", domainErrors.ErrUnrecognizedEvent, err)
	}
	ev := order.Event{
		Kind:          wh.Kind,
		Provider:      p.name,
		OrderID:       parseOrderID(wh.OrderID),
		ExternalID:    wh.ExternalID,
		EventID:       wh.EventID,
		PaymentStatus: wh.PaymentStatus,
		OccurredAt:    time.Now().UTC(),
	}
	if _, err := ev.TargetStatus(); err != nil {
		return order.Event{}, fmt.Errorf("%w: mock kind %q", domainErrors.ErrUnrecognizedEvent, wh.Kind)
	}
	return ev, nil
}

func (p *MockAdapter) PollStatus(ctx context.Context, h Handle) (order.Event, error) {
	if err := p.simulate(ctx); err != nil {
		return order.Event{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.states[h.ExternalID]
	if !ok {
		return order.Event{}, domainErrors.ErrNoProviderHandle
	}
	return ev, nil
}

func (p *MockAdapter) Void(ctx context.Context, h Handle) error {
	if p.voidErr != nil {
		return p.voidErr
	}
	if err := p.simulate(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voided[h.ExternalID] = true
	return nil
}

// SetState makes subsequent polls of externalID return ev.
func (p *MockAdapter) SetState(externalID string, kind order.EventKind, status order.PaymentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[externalID] = order.Event{
		Kind:          kind,
		Provider:      p.name,
		ExternalID:    externalID,
		PaymentStatus: status,
		OccurredAt:    time.Now().UTC(),
	}
}

// Voided reports whether Void succeeded for externalID.
func (p *MockAdapter) Voided(externalID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voided[externalID]
}

// Voids returns every external id that was voided.
func (p *MockAdapter) Voids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.voided))
	for id := range p.voided {
		ids = append(ids, id)
	}
	return ids
}
