package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cassiomorais/orderrecon/internal/domain/accesscode"
	domainErrors "github.com/cassiomorais/orderrecon/internal/domain/errors"
	"github.com/cassiomorais/orderrecon/internal/domain/order"
	"github.com/cassiomorais/orderrecon/internal/domain/outbox"
	"github.com/cassiomorais/orderrecon/internal/domain/subscription"
	"github.com/google/uuid"
)

// --- Transaction Manager Mock ---

type journalKey struct{}

// journal collects undo steps for writes made inside a mock transaction.
type journal struct {
	mu   sync.Mutex
	undo []func()
}

// onRollback registers f to run if the surrounding mock transaction fails.
// Outside a transaction it does nothing.
func onRollback(ctx context.Context, f func()) {
	j, ok := ctx.Value(journalKey{}).(*journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, f)
	j.mu.Unlock()
}

// MockTransactionManager runs fn and reverts every mock write made inside it
// when fn returns an error, like a database rollback.
type MockTransactionManager struct {
	mu        sync.Mutex
	Commits   int
	Rollbacks int

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	j := &journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		for i := len(j.undo) - 1; i >= 0; i-- {
			j.undo[i]()
		}
		m.mu.Lock()
		m.Rollbacks++
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.Commits++
	m.mu.Unlock()
	return nil
}

// --- Order Repository Mock ---

// MockOrderRepository is an in-memory order.Repository that stores copies,
// so callers only see writes that went through Update.
type MockOrderRepository struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order
	events map[uuid.UUID][]*order.AuditEvent

	CreateFunc               func(ctx context.Context, o *order.Order) error
	GetByIDFunc              func(ctx context.Context, id uuid.UUID) (*order.Order, error)
	GetByIdempotencyKeyFunc  func(ctx context.Context, key string) (*order.Order, error)
	GetByExternalRefFunc     func(ctx context.Context, provider order.Provider, externalID string) (*order.Order, error)
	UpdateFunc               func(ctx context.Context, o *order.Order, expectedVersion int64) error
	ListPendingOlderThanFunc func(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error)
	ListUnconfirmedVoidsFunc func(ctx context.Context, limit int) ([]*order.Order, error)
	AddEventFunc             func(ctx context.Context, event *order.AuditEvent) error
	GetEventsFunc            func(ctx context.Context, orderID uuid.UUID) ([]*order.AuditEvent, error)
}

func NewMockOrderRepository() *MockOrderRepository {
	return &MockOrderRepository{
		orders: make(map[uuid.UUID]*order.Order),
		events: make(map[uuid.UUID][]*order.AuditEvent),
	}
}

// AddOrder pre-populates the mock with a copy of o.
func (m *MockOrderRepository) AddOrder(o *order.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = CloneOrder(o)
}

// Stored returns a copy of the persisted order (test helper, no context needed).
func (m *MockOrderRepository) Stored(id uuid.UUID) *order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	return CloneOrder(o)
}

// Events returns the audit events recorded for an order.
func (m *MockOrderRepository) Events(id uuid.UUID) []*order.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*order.AuditEvent(nil), m.events[id]...)
}

func (m *MockOrderRepository) Create(ctx context.Context, o *order.Order) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, o)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if existing.IdempotencyKey == o.IdempotencyKey {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
	}
	m.orders[o.ID] = CloneOrder(o)
	onRollback(ctx, func() {
		m.mu.Lock()
		delete(m.orders, o.ID)
		m.mu.Unlock()
	})
	return nil
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domainErrors.ErrOrderNotFound
	}
	return CloneOrder(o), nil
}

func (m *MockOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	if m.GetByIdempotencyKeyFunc != nil {
		return m.GetByIdempotencyKeyFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyKey == key {
			return CloneOrder(o), nil
		}
	}
	return nil, domainErrors.ErrOrderNotFound
}

func (m *MockOrderRepository) GetByExternalRef(ctx context.Context, provider order.Provider, externalID string) (*order.Order, error) {
	if m.GetByExternalRefFunc != nil {
		return m.GetByExternalRefFunc(ctx, provider, externalID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ExternalRefs[provider] == externalID {
			return CloneOrder(o), nil
		}
	}
	return nil, domainErrors.ErrOrderNotFound
}

func (m *MockOrderRepository) Update(ctx context.Context, o *order.Order, expectedVersion int64) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, o, expectedVersion)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.orders[o.ID]
	if !ok || prev.Version != expectedVersion {
		return domainErrors.NewTransitionRejected("order was modified concurrently", domainErrors.ErrOptimisticLockFailed)
	}
	o.Version = expectedVersion + 1
	m.orders[o.ID] = CloneOrder(o)
	onRollback(ctx, func() {
		m.mu.Lock()
		m.orders[prev.ID] = prev
		m.mu.Unlock()
	})
	return nil
}

func (m *MockOrderRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	if m.ListPendingOlderThanFunc != nil {
		return m.ListPendingOlderThanFunc(ctx, cutoff, limit)
	}
	return m.list(limit, func(o *order.Order) bool {
		_, active := o.ActiveProvider()
		return active && o.Status.IsPending() && o.UpdatedAt.Before(cutoff)
	}), nil
}

func (m *MockOrderRepository) ListUnconfirmedVoids(ctx context.Context, limit int) ([]*order.Order, error) {
	if m.ListUnconfirmedVoidsFunc != nil {
		return m.ListUnconfirmedVoidsFunc(ctx, limit)
	}
	return m.list(limit, func(o *order.Order) bool {
		return o.Status == order.StatusCanceled && o.RemoteVoid == order.RemoteVoidUnconfirmed
	}), nil
}

func (m *MockOrderRepository) list(limit int, keep func(*order.Order) bool) []*order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*order.Order
	for _, o := range m.orders {
		if keep(o) {
			result = append(result, CloneOrder(o))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.Before(result[j].UpdatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (m *MockOrderRepository) AddEvent(ctx context.Context, event *order.AuditEvent) error {
	if m.AddEventFunc != nil {
		return m.AddEventFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.OrderID] = append(m.events[event.OrderID], event)
	onRollback(ctx, func() {
		m.mu.Lock()
		evs := m.events[event.OrderID]
		m.events[event.OrderID] = evs[:len(evs)-1]
		m.mu.Unlock()
	})
	return nil
}

func (m *MockOrderRepository) GetEvents(ctx context.Context, orderID uuid.UUID) ([]*order.AuditEvent, error) {
	if m.GetEventsFunc != nil {
		return m.GetEventsFunc(ctx, orderID)
	}
	return m.Events(orderID), nil
}

// CloneOrder deep-copies the mutable parts of an order.
func CloneOrder(o *order.Order) *order.Order {
	c := *o
	c.ExternalRefs = make(map[order.Provider]string, len(o.ExternalRefs))
	for k, v := range o.ExternalRefs {
		c.ExternalRefs[k] = v
	}
	c.LineItems = append([]order.LineItem(nil), o.LineItems...)
	return &c
}

// --- Idempotency Store Mock ---

// MockIdempotencyStore is an in-memory idempotency.Store.
type MockIdempotencyStore struct {
	mu     sync.Mutex
	claims map[string]string

	TryClaimFunc func(ctx context.Context, key, summary string) (bool, error)
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{claims: make(map[string]string)}
}

func (m *MockIdempotencyStore) TryClaim(ctx context.Context, key, summary string) (bool, error) {
	if m.TryClaimFunc != nil {
		return m.TryClaimFunc(ctx, key, summary)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[key]; ok {
		return false, nil
	}
	m.claims[key] = summary
	onRollback(ctx, func() {
		m.mu.Lock()
		delete(m.claims, key)
		m.mu.Unlock()
	})
	return true, nil
}

// Claimed reports whether key is currently claimed.
func (m *MockIdempotencyStore) Claimed(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.claims[key]
	return ok
}

// Len returns the number of claimed keys.
func (m *MockIdempotencyStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory outbox.Repository.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

// Entries returns every inserted entry.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.entries...)
}

// EntriesOf returns the inserted entries of one event type.
func (m *MockOutboxRepository) EntriesOf(eventType string) []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	onRollback(ctx, func() {
		m.mu.Lock()
		m.entries = m.entries[:len(m.entries)-1]
		m.mu.Unlock()
	})
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending {
			pending = append(pending, e)
		}
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.Published(time.Now())
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			e.RecordFailure(reason)
		}
	}
	return nil
}

func (m *MockOutboxRepository) PurgePublished(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var purged int64
	for _, e := range m.entries {
		if e.Status == outbox.StatusPublished && e.PublishedAt != nil && e.PublishedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return purged, nil
}

// --- Inventory Repository Mock ---

// MockInventoryRepository is an in-memory inventory.Repository. SKUs and
// coupons absent from the maps are untracked.
type MockInventoryRepository struct {
	mu        sync.Mutex
	stock     map[string]int
	coupons   map[string]int
	couponMax map[string]int

	DecrementFunc func(ctx context.Context, sku string, quantity int) (int, bool, error)
}

func NewMockInventoryRepository() *MockInventoryRepository {
	return &MockInventoryRepository{
		stock:     make(map[string]int),
		coupons:   make(map[string]int),
		couponMax: make(map[string]int),
	}
}

func (m *MockInventoryRepository) SetStock(sku string, onHand int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[sku] = onHand
}

// AddCoupon registers code with a redemption limit; zero means unlimited.
func (m *MockInventoryRepository) AddCoupon(code string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coupons[code] = 0
	m.couponMax[code] = limit
}

func (m *MockInventoryRepository) Stock(sku string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[sku]
}

func (m *MockInventoryRepository) Redeemed(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coupons[code]
}

func (m *MockInventoryRepository) Decrement(ctx context.Context, sku string, quantity int) (int, bool, error) {
	if m.DecrementFunc != nil {
		return m.DecrementFunc(ctx, sku, quantity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	onHand, ok := m.stock[sku]
	if !ok {
		return 0, false, nil
	}
	m.stock[sku] = onHand - quantity
	onRollback(ctx, func() {
		m.mu.Lock()
		m.stock[sku] += quantity
		m.mu.Unlock()
	})
	return onHand - quantity, true, nil
}

func (m *MockInventoryRepository) RedeemCoupon(ctx context.Context, code string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.coupons[code]
	if !ok {
		return false, false, nil
	}
	m.coupons[code] = n + 1
	onRollback(ctx, func() {
		m.mu.Lock()
		m.coupons[code]--
		m.mu.Unlock()
	})
	limit := m.couponMax[code]
	return limit > 0 && n+1 > limit, true, nil
}

// --- Subscription Repository Mock ---

// MockSubscriptionRepository is an in-memory subscription.Repository.
type MockSubscriptionRepository struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscription.Subscription

	GetFunc             func(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error)
	UpdateFunc          func(ctx context.Context, s *subscription.Subscription) error
	MarkExpiredFunc     func(ctx context.Context, s *subscription.Subscription) (bool, error)
	ListActiveExpiredFn func(ctx context.Context, groupID string, now time.Time, after uuid.UUID, limit int) ([]*subscription.Subscription, error)

	MarkExpiredCalls int
	CreateCalls      int
}

func NewMockSubscriptionRepository() *MockSubscriptionRepository {
	return &MockSubscriptionRepository{subs: make(map[uuid.UUID]*subscription.Subscription)}
}

// AddSubscription pre-populates the mock with a copy of s.
func (m *MockSubscriptionRepository) AddSubscription(s *subscription.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.subs[s.ID] = &c
}

// Stored returns a copy of the persisted subscription.
func (m *MockSubscriptionRepository) Stored(id uuid.UUID) *subscription.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

func (m *MockSubscriptionRepository) Get(ctx context.Context, ownerID, groupID string) (*subscription.Subscription, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, ownerID, groupID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.OwnerID == ownerID && s.GroupID == groupID {
			c := *s
			return &c, nil
		}
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func (m *MockSubscriptionRepository) GetByProviderID(ctx context.Context, provider, providerSubscriptionID string) (*subscription.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.Provider == provider && s.ProviderSubscriptionID == providerSubscriptionID {
			c := *s
			return &c, nil
		}
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.subs {
		if (existing.OwnerID == s.OwnerID && existing.GroupID == s.GroupID) ||
			(existing.Provider == s.Provider && existing.ProviderSubscriptionID == s.ProviderSubscriptionID) {
			return domainErrors.NewDomainError("duplicate_subscription", "subscription already exists", nil)
		}
	}
	c := *s
	m.subs[s.ID] = &c
	m.CreateCalls++
	onRollback(ctx, func() {
		m.mu.Lock()
		delete(m.subs, s.ID)
		m.CreateCalls--
		m.mu.Unlock()
	})
	return nil
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, s *subscription.Subscription) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.subs[s.ID]
	if !ok {
		return domainErrors.ErrSubscriptionNotFound
	}
	c := *s
	m.subs[s.ID] = &c
	onRollback(ctx, func() {
		m.mu.Lock()
		m.subs[prev.ID] = prev
		m.mu.Unlock()
	})
	return nil
}

func (m *MockSubscriptionRepository) MarkExpired(ctx context.Context, s *subscription.Subscription) (bool, error) {
	if m.MarkExpiredFunc != nil {
		return m.MarkExpiredFunc(ctx, s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarkExpiredCalls++
	stored, ok := m.subs[s.ID]
	if !ok || stored.CachedStatus != subscription.StatusActive ||
		!stored.CurrentPeriodEnd.Equal(s.CurrentPeriodEnd) || s.UpdatedAt.Before(stored.CurrentPeriodEnd) {
		return false, nil
	}
	stored.CachedStatus = subscription.StatusExpired
	stored.UpdatedAt = s.UpdatedAt
	return true, nil
}

func (m *MockSubscriptionRepository) ListActiveExpired(ctx context.Context, groupID string, now time.Time, after uuid.UUID, limit int) ([]*subscription.Subscription, error) {
	if m.ListActiveExpiredFn != nil {
		return m.ListActiveExpiredFn(ctx, groupID, now, after, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*subscription.Subscription
	for _, s := range m.subs {
		if s.GroupID == groupID && s.CachedStatus == subscription.StatusActive &&
			!now.Before(s.CurrentPeriodEnd) && s.ID.String() > after.String() {
			c := *s
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockSubscriptionRepository) ListGroupsWithActive(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var groups []string
	for _, s := range m.subs {
		if s.CachedStatus == subscription.StatusActive && !seen[s.GroupID] {
			seen[s.GroupID] = true
			groups = append(groups, s.GroupID)
		}
	}
	sort.Strings(groups)
	return groups, nil
}

// --- Access Code Mocks ---

// MockAccessCodeStore is an in-memory accesscode.Store.
type MockAccessCodeStore struct {
	mu    sync.Mutex
	codes map[string]*accesscode.AccessCode

	SaveFunc func(ctx context.Context, code *accesscode.AccessCode, ttl time.Duration) error
	GetFunc  func(ctx context.Context, subjectID string) (*accesscode.AccessCode, error)
}

func NewMockAccessCodeStore() *MockAccessCodeStore {
	return &MockAccessCodeStore{codes: make(map[string]*accesscode.AccessCode)}
}

func (m *MockAccessCodeStore) Save(ctx context.Context, code *accesscode.AccessCode, ttl time.Duration) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, code, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *code
	m.codes[code.SubjectID] = &c
	return nil
}

func (m *MockAccessCodeStore) Get(ctx context.Context, subjectID string) (*accesscode.AccessCode, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, subjectID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[subjectID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MockAccessCodeStore) ReserveAttempt(ctx context.Context, subjectID string) (accesscode.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[subjectID]
	if !ok {
		return accesscode.ReservationGone, nil
	}
	c.Attempts++
	if c.Attempts > c.MaxAttempts {
		delete(m.codes, subjectID)
		return accesscode.ReservationExhausted, nil
	}
	return accesscode.Reserved, nil
}

func (m *MockAccessCodeStore) Consume(ctx context.Context, subjectID, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[subjectID]
	if !ok || c.CodeHash != codeHash {
		return false, nil
	}
	delete(m.codes, subjectID)
	return true, nil
}

func (m *MockAccessCodeStore) Delete(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, subjectID)
	return nil
}

// MockLimiter counts hits per key and allows up to the requested limit.
type MockLimiter struct {
	mu   sync.Mutex
	hits map[string]int

	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func NewMockLimiter() *MockLimiter {
	return &MockLimiter{hits: make(map[string]int)}
}

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[key]++
	return m.hits[key] <= limit, nil
}

// SentCode is one code delivered through MockSender.
type SentCode struct {
	SubjectID string
	Code      string
	ExpiresAt time.Time
}

// MockSender records delivered access codes.
type MockSender struct {
	mu   sync.Mutex
	sent []SentCode

	SendAccessCodeFunc func(ctx context.Context, subjectID, code string, expiresAt time.Time) error
}

func (m *MockSender) SendAccessCode(ctx context.Context, subjectID, code string, expiresAt time.Time) error {
	if m.SendAccessCodeFunc != nil {
		return m.SendAccessCodeFunc(ctx, subjectID, code, expiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentCode{SubjectID: subjectID, Code: code, ExpiresAt: expiresAt})
	return nil
}

// Sent returns every delivered code in order.
func (m *MockSender) Sent() []SentCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentCode(nil), m.sent...)
}

// Last returns the most recently delivered code.
func (m *MockSender) Last() SentCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentCode{}
	}
	return m.sent[len(m.sent)-1]
}
