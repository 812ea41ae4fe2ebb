package service

import (
	"context"
	"errors"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/providers"
	"github.com/cassiomorais/orderrecon/internal/testutil"
	"github.com/cassiomorais/orderrecon/pkg/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(adapters ...providers.Adapter) *providers.Registry {
	return providers.NewRegistry(providers.BreakerSettings{}, adapters...)
}

func fastMock(name order.Provider, opts ...providers.MockOption) *providers.MockAdapter {
	return providers.NewMockAdapter(name, append([]providers.MockOption{providers.WithLatency(time.Millisecond)}, opts...)...)
}

func setupCheckout(adapters ...providers.Adapter) (*ledgerFixture, *CheckoutService) {
	f := setupLedger()
	svc := NewCheckoutService(f.orders, f.ledger, newRegistry(adapters...), nil, zerolog.Nop(), 100*time.Millisecond)
	return f, svc
}

func checkoutRequest(key string, provider order.Provider) CheckoutRequest {
	return CheckoutRequest{
		IdempotencyKey: key,
		CustomerID:     "customer-1",
		CustomerEmail:  "customer@example.com",
		Currency:       "JPY",
		LineItems:      []order.LineItem{{SKU: "SKU-1", Name: "Tea", Quantity: 2, UnitPrice: 2500}},
		Provider:       provider,
	}
}

func TestCheckout_CreatesPendingOrder(t *testing.T) {
	f, svc := setupCheckout()

	res, err := svc.Checkout(context.Background(), checkoutRequest("key-1", ""))

	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Nil(t, res.Handle)
	assert.Equal(t, order.StatusPending, res.Order.Status)
	assert.Equal(t, "5000 JPY", res.Order.Amount.String())
	assert.NotNil(t, f.orders.Stored(res.Order.ID))
}

func TestCheckout_ReplaysSameKey(t *testing.T) {
	_, svc := setupCheckout()
	ctx := context.Background()

	first, err := svc.Checkout(ctx, checkoutRequest("key-2", ""))
	require.NoError(t, err)
	second, err := svc.Checkout(ctx, checkoutRequest("key-2", ""))
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
}

func TestCheckout_LostCreateRace(t *testing.T) {
	f, svc := setupCheckout()
	winner := testutil.NewTestOrder(5000, "JPY")
	winner.IdempotencyKey = "key-race"

	calls := 0
	f.orders.GetByIdempotencyKeyFunc = func(ctx context.Context, key string) (*order.Order, error) {
		calls++
		if calls == 1 {
			return nil, domainErrors.ErrOrderNotFound
		}
		return winner, nil
	}
	f.orders.CreateFunc = func(ctx context.Context, o *order.Order) error {
		return domainErrors.ErrDuplicateIdempotencyKey
	}

	res, err := svc.Checkout(context.Background(), checkoutRequest("key-race", ""))

	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, winner.ID, res.Order.ID)
}

func TestCheckout_WithQRProvider(t *testing.T) {
	f, svc := setupCheckout(fastMock(order.ProviderQRA))

	res, err := svc.Checkout(context.Background(), checkoutRequest("key-3", order.ProviderQRA))

	require.NoError(t, err)
	require.NoError(t, res.PaymentErr)
	require.NotNil(t, res.Handle)
	assert.Equal(t, order.StatusPendingProviderA, res.Order.Status)

	stored := f.orders.Stored(res.Order.ID)
	assert.Equal(t, res.Handle.ExternalID, stored.ExternalRefs[order.ProviderQRA])
	assert.Empty(t, f.outbox.Entries())
}

func TestCheckout_CardCapturesImmediately(t *testing.T) {
	f, svc := setupCheckout(fastMock(order.ProviderCard))

	res, err := svc.Checkout(context.Background(), checkoutRequest("key-4", order.ProviderCard))

	require.NoError(t, err)
	require.NoError(t, res.PaymentErr)
	assert.Equal(t, order.StatusPaid, res.Order.Status)
	assert.Len(t, f.outbox.Entries(), 2)
}

func TestCheckout_InitiationFailureLeavesOrderPending(t *testing.T) {
	f, svc := setupCheckout(fastMock(order.ProviderQRB, providers.WithFailureRate(1.0)))

	res, err := svc.Checkout(context.Background(), checkoutRequest("key-5", order.ProviderQRB))

	require.NoError(t, err)
	assert.ErrorIs(t, res.PaymentErr, domainErrors.ErrProviderRejected)
	assert.Nil(t, res.Handle)
	assert.Equal(t, order.StatusPending, f.orders.Stored(res.Order.ID).Status)
}

func TestCheckout_UnknownProvider(t *testing.T) {
	_, svc := setupCheckout()

	res, err := svc.Checkout(context.Background(), checkoutRequest("key-6", order.ProviderDeferred))

	require.NoError(t, err)
	assert.ErrorIs(t, res.PaymentErr, domainErrors.ErrProviderNotFound)
}

func TestInitiatePayment_RecordFailureVoidsHandle(t *testing.T) {
	qr := fastMock(order.ProviderQRA)
	f, svc := setupCheckout(qr)
	o := testutil.NewTestOrder(5000, "JPY")
	f.orders.AddOrder(o)

	dbErr := errors.New("connection reset")
	f.orders.UpdateFunc = func(ctx context.Context, o *order.Order, expectedVersion int64) error {
		return dbErr
	}

	_, err := svc.InitiatePayment(context.Background(), o.ID, o.CustomerID, order.ProviderQRA)

	assert.ErrorIs(t, err, dbErr)
	assert.Len(t, qr.Voids(), 1)
	assert.Equal(t, order.StatusPending, f.orders.Stored(o.ID).Status)
}

func TestInitiatePayment_RecordAndVoidFailure(t *testing.T) {
	qr := fastMock(order.ProviderQRA, providers.WithVoidError(domainErrors.ErrProviderTimeout))
	f, svc := setupCheckout(qr)
	o := testutil.NewTestOrder(5000, "JPY")
	f.orders.AddOrder(o)

	dbErr := errors.New("connection reset")
	f.orders.UpdateFunc = func(ctx context.Context, o *order.Order, expectedVersion int64) error {
		return dbErr
	}

	_, err := svc.InitiatePayment(context.Background(), o.ID, o.CustomerID, order.ProviderQRA)

	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "record-handle", stepErr.Step)
	assert.ErrorIs(t, stepErr.CompensationErr, domainErrors.ErrProviderTimeout)
	assert.Equal(t, order.StatusPending, f.orders.Stored(o.ID).Status)
}

func TestInitiatePayment_SwitchProvider(t *testing.T) {
	f, svc := setupCheckout(fastMock(order.ProviderQRA), fastMock(order.ProviderQRB))
	o := testutil.NewPendingProviderOrder(order.ProviderQRA, "qa_old", 5000, "JPY")
	f.orders.AddOrder(o)

	res, err := svc.InitiatePayment(context.Background(), o.ID, o.CustomerID, order.ProviderQRB)

	require.NoError(t, err)
	assert.Equal(t, order.StatusPendingProviderB, res.Order.Status)
}

func TestInitiatePayment_RejectsPaidOrder(t *testing.T) {
	f, svc := setupCheckout(fastMock(order.ProviderQRA))
	o := testutil.NewTestOrder(5000, "JPY")
	o.Status = order.StatusPaid
	o.PaymentStatus = order.PaymentCaptured
	f.orders.AddOrder(o)

	_, err := svc.InitiatePayment(context.Background(), o.ID, o.CustomerID, order.ProviderQRA)

	assert.True(t, domainErrors.IsTransitionRejected(err))
}

func TestCancel_VoidsAndCancels(t *testing.T) {
	qr := fastMock(order.ProviderQRA)
	f, svc := setupCheckout(qr)
	o := testutil.NewPendingProviderOrder(order.ProviderQRA, "qa_c1", 5000, "JPY")
	f.orders.AddOrder(o)

	got, err := svc.Cancel(context.Background(), o.ID, o.CustomerID, nil)

	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, got.Status)
	assert.Equal(t, order.RemoteVoidConfirmed, f.orders.Stored(o.ID).RemoteVoid)
	assert.True(t, qr.Voided("qa_c1"))
}

func TestCancel_UnconfirmedVoidStillCancels(t *testing.T) {
	qr := fastMock(order.ProviderQRA, providers.WithVoidError(domainErrors.ErrProviderTimeout))
	f, svc := setupCheckout(qr)
	o := testutil.NewPendingProviderOrder(order.ProviderQRA, "qa_c2", 5000, "JPY")
	f.orders.AddOrder(o)

	got, err := svc.Cancel(context.Background(), o.ID, o.CustomerID, nil)

	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, got.Status)
	assert.Equal(t, order.RemoteVoidUnconfirmed, f.orders.Stored(o.ID).RemoteVoid)

	// a later pass with a reachable provider confirms the void
	healthy := fastMock(order.ProviderQRA)
	recon := NewReconciliationService(f.orders, f.ledger, nil, newRegistry(healthy), nil, zerolog.Nop())
	n, err := recon.ReconcileVoids(context.Background(), 10)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, healthy.Voided("qa_c2"))
	assert.Equal(t, order.RemoteVoidConfirmed, f.orders.Stored(o.ID).RemoteVoid)
}

// racingVoider calls during before voiding, standing in for a
// webhook that lands while the provider call is in flight.
type racingVoider struct {
	*providers.MockAdapter
	during func()
}

func (r *racingVoider) Void(ctx context.Context, h providers.Handle) error {
	r.during()
	return r.MockAdapter.Void(ctx, h)
}

func TestCancel_ConcurrentWriteDuringVoidRetriesOnFreshRead(t *testing.T) {
	adapter := &racingVoider{MockAdapter: fastMock(order.ProviderQRA)}
	f, svc := setupCheckout(adapter)
	o := testutil.NewPendingProviderOrder(order.ProviderQRA, "qa_c3", 5000, "JPY")
	f.orders.AddOrder(o)
	adapter.during = func() {
		bumped := f.orders.Stored(o.ID)
		bumped.Version++
		f.orders.AddOrder(bumped)
	}

	got, err := svc.Cancel(context.Background(), o.ID, o.CustomerID, nil)

	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, got.Status)
	assert.Equal(t, order.RemoteVoidConfirmed, f.orders.Stored(o.ID).RemoteVoid)
}

func TestCancel_CaptureDuringVoidFlagsOrder(t *testing.T) {
	adapter := &racingVoider{MockAdapter: fastMock(order.ProviderQRA)}
	f, svc := setupCheckout(adapter)
	o := testutil.NewPendingProviderOrder(order.ProviderQRA, "qa_c4", 5000, "JPY")
	f.orders.AddOrder(o)
	adapter.during = func() {
		paid := f.orders.Stored(o.ID)
		paid.Status = order.StatusPaid
		paid.PaymentStatus = order.PaymentCaptured
		paid.Version++
		f.orders.AddOrder(paid)
	}

	_, err := svc.Cancel(context.Background(), o.ID, o.CustomerID, nil)

	require.Error(t, err)
	assert.True(t, domainErrors.IsStale(err))
	assert.True(t, adapter.Voided("qa_c4"))

	stored := f.orders.Stored(o.ID)
	assert.Equal(t, order.StatusPaid, stored.Status)
	assert.Equal(t, order.RemoteVoidUnconfirmed, stored.RemoteVoid)
	events := f.orders.Events(o.ID)
	require.NotEmpty(t, events)
	assert.Equal(t, "order.void_unreconciled", events[len(events)-1].EventType)
}

func TestCancel_PendingWithoutProvider(t *testing.T) {
	f, svc := setupCheckout()
	o := testutil.NewTestOrder(5000, "JPY")
	f.orders.AddOrder(o)

	got, err := svc.Cancel(context.Background(), o.ID, o.CustomerID, &o.Version)

	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, got.Status)
	assert.Equal(t, order.RemoteVoidNone, f.orders.Stored(o.ID).RemoteVoid)
}

func TestCancel_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(o *order.Order)
		customer string
		version  func(o *order.Order) *int64
		check    func(t *testing.T, err error)
	}{
		{
			name:     "other customer sees not found",
			customer: "someone-else",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)
			},
		},
		{
			name: "paid order is not cancelable",
			mutate: func(o *order.Order) {
				o.Status = order.StatusPaid
				o.PaymentStatus = order.PaymentCaptured
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domainErrors.ErrNotCancelable)
			},
		},
		{
			name: "stale version",
			version: func(o *order.Order) *int64 {
				v := o.Version + 5
				return &v
			},
			check: func(t *testing.T, err error) {
				assert.True(t, domainErrors.IsStale(err))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, svc := setupCheckout()
			o := testutil.NewTestOrder(5000, "JPY")
			if tt.mutate != nil {
				tt.mutate(o)
			}
			f.orders.AddOrder(o)
			customer := o.CustomerID
			if tt.customer != "" {
				customer = tt.customer
			}
			var version *int64
			if tt.version != nil {
				version = tt.version(o)
			}

			_, err := svc.Cancel(context.Background(), o.ID, customer, version)

			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, o.Status, f.orders.Stored(o.ID).Status)
		})
	}
}

func TestGetOrder_OwnerOnly(t *testing.T) {
	f, svc := setupCheckout()
	o := testutil.NewTestOrder(5000, "JPY")
	f.orders.AddOrder(o)

	got, err := svc.GetOrder(context.Background(), o.ID, o.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.GetOrder(context.Background(), o.ID, "intruder")
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)
}

func TestHistory(t *testing.T) {
	f, svc := setupCheckout()
	o := testutil.NewTestOrder(5000, "JPY")
	f.orders.AddOrder(o)
	ctx := context.Background()
	require.NoError(t, f.orders.AddEvent(ctx, &order.AuditEvent{ID: uuid.New(), OrderID: o.ID, EventType: "payment.captured"}))

	events, err := svc.History(ctx, o.ID, o.CustomerID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "payment.captured", events[0].EventType)

	_, err = svc.History(ctx, o.ID, "intruder")
	assert.ErrorIs(t, err, domainErrors.ErrOrderNotFound)

	f.orders.GetEventsFunc = func(context.Context, uuid.UUID) ([]*order.AuditEvent, error) {
		return nil, errors.New("connection reset")
	}
	_, err = svc.History(ctx, o.ID, o.CustomerID)
	assert.ErrorContains(t, err, "load order history")
}
