package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the per-provider circuit breakers.
type BreakerSettings struct {
	Threshold     uint32
	Timeout       time.Duration
	OnStateChange func(provider string, from, to gobreaker.State)
}

// Registry holds the configured adapters, each behind its own circuit breaker.
type Registry struct {
	adapters map[order.Provider]Adapter
	breakers map[order.Provider]*gobreaker.CircuitBreaker[any]
	settings BreakerSettings
}

func NewRegistry(settings BreakerSettings, adapters ...Adapter) *Registry {
	if settings.Threshold == 0 {
		settings.Threshold = 10
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	r := &Registry{
		adapters: make(map[order.Provider]Adapter),
		breakers: make(map[order.Provider]*gobreaker.CircuitBreaker[any]),
		settings: settings,
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	name := a.Name()
	threshold := r.settings.Threshold
	r.adapters[name] = a
	r.breakers[name] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(name),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     r.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.6
		},
		// a refusal is a business answer from a healthy provider
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domainErrors.ErrProviderRejected) ||
				errors.Is(err, domainErrors.ErrUnrecognizedEvent) || errors.Is(err, domainErrors.ErrNoProviderHandle)
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			if r.settings.OnStateChange != nil {
				r.settings.OnStateChange(n, from, to)
			}
		},
	})
}

// Names lists registered providers in a stable order.
func (r *Registry) Names() []order.Provider {
	names := make([]order.Provider, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Get returns the adapter for name with outbound calls guarded by its breaker.
func (r *Registry) Get(name order.Provider) (*GuardedAdapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return &GuardedAdapter{adapter: a, breaker: r.breakers[name]}, nil
}

// BreakerState returns the current state of a provider's breaker.
func (r *Registry) BreakerState(name order.Provider) (gobreaker.State, bool) {
	cb, ok := r.breakers[name]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return cb.State(), true
}

// GuardedAdapter runs outbound calls through a circuit breaker. Webhook and
// callback translation is local and bypasses it.
type GuardedAdapter struct {
	adapter Adapter
	breaker *gobreaker.CircuitBreaker[any]
}

func (g *GuardedAdapter) Name() order.Provider { return g.adapter.Name() }

func (g *GuardedAdapter) Initiate(ctx context.Context, o *order.Order, amount order.Amount) (*Handle, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		return g.adapter.Initiate(ctx, o, amount)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return res.(*Handle), nil
}

func (g *GuardedAdapter) PollStatus(ctx context.Context, h Handle) (order.Event, error) {
	res, err := g.breaker.Execute(func() (any, error) {
		return g.adapter.PollStatus(ctx, h)
	})
	if err != nil {
		return order.Event{}, breakerError(err)
	}
	return res.(order.Event), nil
}

func (g *GuardedAdapter) TranslateWebhook(raw []byte, signatureHeader string) (order.Event, error) {
	return g.adapter.TranslateWebhook(raw, signatureHeader)
}

// CanVoid reports whether the provider supports voiding.
func (g *GuardedAdapter) CanVoid() bool {
	_, ok := g.adapter.(Voider)
	return ok
}

func (g *GuardedAdapter) Void(ctx context.Context, h Handle) error {
	v, ok := g.adapter.(Voider)
	if !ok {
		return fmt.Errorf("%s cannot void: %w", g.adapter.Name(), domainErrors.ErrProviderRejected)
	}
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, v.Void(ctx, h)
	})
	return breakerError(err)
}

func (g *GuardedAdapter) TranslateCallback(query url.Values) (order.Event, error) {
	c, ok := g.adapter.(CallbackTranslator)
	if !ok {
		return order.Event{}, fmt.Errorf("%s has no callback: %w", g.adapter.Name(), domainErrors.ErrUnrecognizedEvent)
	}
	return c.TranslateCallback(query)
}

// TranslateNotification verifies and translates a webhook delivery. Adapters
// without billing events always yield a payment event.
func (g *GuardedAdapter) TranslateNotification(raw []byte, signatureHeader string) (WebhookEvent, error) {
	if b, ok := g.adapter.(BillingTranslator); ok {
		return b.TranslateNotification(raw, signatureHeader)
	}
	ev, err := g.adapter.TranslateWebhook(raw, signatureHeader)
	return WebhookEvent{Payment: ev}, err
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err)
	}
	return err
}
