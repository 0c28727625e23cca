package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests. It serializes transactions
// with a single mutex, which gives the same all-or-nothing visibility as the
// Postgres implementation without needing a database.
type MemoryStore struct {
	mu sync.Mutex

	accounts      map[uuid.UUID]*Account
	subscriptions map[uuid.UUID]*Subscription
	subsByGateway map[string]uuid.UUID
	events        map[string]*PaymentEvent // keyed by gateway event id
	commissions   map[uuid.UUID]*CommissionRecord
	takeovers     []*TakeoverRecord
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[uuid.UUID]*Account),
		subscriptions: make(map[uuid.UUID]*Subscription),
		subsByGateway: make(map[string]uuid.UUID),
		events:        make(map[string]*PaymentEvent),
		commissions:   make(map[uuid.UUID]*CommissionRecord),
	}
}

// InTx applies fn against a staged copy of the store and merges the copy back
// only when fn succeeds, mirroring transactional rollback.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{base: s, staged: newMemStage(s)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.staged.commit(s)
	return nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, acct *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	if acct.Status == "" {
		acct.Status = AccountActive
	}
	s.accounts[acct.ID] = cloneAccount(acct)
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if existing.SubscriberID == sub.SubscriberID &&
			existing.GalleryID == sub.GalleryID &&
			!existing.Status.Terminal() {
			return ErrSubscriptionExists
		}
	}

	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	s.subscriptions[sub.ID] = cloneSubscription(sub)
	if sub.GatewaySubscriptionID != "" {
		s.subsByGateway[sub.GatewaySubscriptionID] = sub.ID
	}
	return nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func (s *MemoryStore) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.subsByGateway[gatewayID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(s.subscriptions[id]), nil
}

func (s *MemoryStore) ListDeactivatableAccounts(ctx context.Context, now time.Time, limit int) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Account
	for _, a := range s.accounts {
		if a.Kind == KindSubscriber && a.Status == AccountActive &&
			a.GraceDeadline != nil && a.GraceDeadline.Before(now) {
			out = append(out, *cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GraceDeadline.Before(*out[j].GraceDeadline)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeactivateAccount(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.Status != AccountActive || a.GraceDeadline == nil ||
		!a.GraceDeadline.Before(now) || a.DeactivatedAt != nil {
		return false, nil
	}
	ts := now
	a.Status = AccountDeactivated
	a.DeactivatedAt = &ts
	a.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) ListOverdueProviders(ctx context.Context, cutoff time.Time, limit int) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Account
	for _, a := range s.accounts {
		if a.Kind == KindProvider && a.Status == AccountActive &&
			a.OverdueSince != nil && !a.OverdueSince.After(cutoff) {
			out = append(out, *cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OverdueSince.Before(*out[j].OverdueSince)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SuspendProvider(ctx context.Context, id uuid.UUID, now time.Time, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok || a.Kind != KindProvider || a.Status != AccountActive ||
		a.OverdueSince == nil || a.OverdueSince.After(cutoff) {
		return false, nil
	}
	ts := now
	a.Status = AccountSuspended
	a.SuspendedAt = &ts
	a.AccessSuspended = true
	a.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) SumProviderCommission(ctx context.Context, providerID uuid.UUID, currency string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, rec := range s.commissions {
		if rec.ProviderID != nil && *rec.ProviderID == providerID && rec.Currency == currency {
			total += rec.ProviderCents
		}
	}
	return total, nil
}

// memStage holds copy-on-write state for one in-flight transaction.
type memStage struct {
	accounts      map[uuid.UUID]*Account
	subscriptions map[uuid.UUID]*Subscription
	events        map[string]*PaymentEvent
	commissions   map[uuid.UUID]*CommissionRecord
	takeovers     []*TakeoverRecord
}

func newMemStage(s *MemoryStore) *memStage {
	st := &memStage{
		accounts:      make(map[uuid.UUID]*Account, len(s.accounts)),
		subscriptions: make(map[uuid.UUID]*Subscription, len(s.subscriptions)),
		events:        make(map[string]*PaymentEvent, len(s.events)),
		commissions:   make(map[uuid.UUID]*CommissionRecord, len(s.commissions)),
	}
	for id, a := range s.accounts {
		st.accounts[id] = cloneAccount(a)
	}
	for id, sub := range s.subscriptions {
		st.subscriptions[id] = cloneSubscription(sub)
	}
	for id, ev := range s.events {
		cp := *ev
		st.events[id] = &cp
	}
	for id, rec := range s.commissions {
		cp := *rec
		st.commissions[id] = &cp
	}
	return st
}

func (st *memStage) commit(s *MemoryStore) {
	s.accounts = st.accounts
	s.subscriptions = st.subscriptions
	s.events = st.events
	s.commissions = st.commissions
	s.takeovers = append(s.takeovers, st.takeovers...)
	for _, sub := range st.subscriptions {
		if sub.GatewaySubscriptionID != "" {
			s.subsByGateway[sub.GatewaySubscriptionID] = sub.ID
		}
	}
}

// memTx implements Tx against the staged copy.
type memTx struct {
	base   *MemoryStore
	staged *memStage
}

func (t *memTx) InsertPaymentEvent(ctx context.Context, ev *PaymentEvent) error {
	if _, exists := t.staged.events[ev.GatewayEventID]; exists {
		return ErrDuplicateEvent
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	cp := *ev
	t.staged.events[ev.GatewayEventID] = &cp
	return nil
}

func (t *memTx) GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error) {
	id, ok := t.base.subsByGateway[gatewayID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	sub, ok := t.staged.subscriptions[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func (t *memTx) UpdateSubscription(ctx context.Context, sub *Subscription, expectedLastEventAt time.Time) error {
	current, ok := t.staged.subscriptions[sub.ID]
	if !ok || !current.LastEventAt.Equal(expectedLastEventAt) {
		return ErrConflict
	}
	sub.UpdatedAt = time.Now().UTC()
	sub.CreatedAt = current.CreatedAt
	t.staged.subscriptions[sub.ID] = cloneSubscription(sub)
	return nil
}

func (t *memTx) InsertCommissionRecord(ctx context.Context, rec *CommissionRecord) error {
	for _, existing := range t.staged.commissions {
		if existing.PaymentEventID == rec.PaymentEventID {
			return ErrDuplicateCommission
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	t.staged.commissions[rec.ID] = &cp
	return nil
}

func (t *memTx) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, ok := t.staged.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (t *memTx) ClearAccountSuspension(ctx context.Context, id uuid.UUID) error {
	a, ok := t.staged.accounts[id]
	if !ok || a.Status != AccountSuspended {
		return nil
	}
	a.Status = AccountActive
	a.SuspendedAt = nil
	a.AccessSuspended = false
	a.OverdueSince = nil
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) SetAccountGraceDeadline(ctx context.Context, id uuid.UUID, deadline *time.Time) error {
	a, ok := t.staged.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if deadline != nil {
		d := *deadline
		a.GraceDeadline = &d
	} else {
		a.GraceDeadline = nil
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) MarkProviderOverdue(ctx context.Context, id uuid.UUID, since time.Time) error {
	a, ok := t.staged.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if a.OverdueSince == nil {
		ts := since
		a.OverdueSince = &ts
		a.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (t *memTx) ClearProviderOverdue(ctx context.Context, id uuid.UUID) error {
	a, ok := t.staged.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.OverdueSince = nil
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) ResetPaymentFailures(ctx context.Context, id uuid.UUID) error {
	a, ok := t.staged.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.PaymentFailures = 0
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) IncrementPaymentFailures(ctx context.Context, id uuid.UUID) error {
	a, ok := t.staged.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.PaymentFailures++
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) SetBillingPayer(ctx context.Context, accountID uuid.UUID, expectedPrev *uuid.UUID, newPayer uuid.UUID) error {
	a, ok := t.staged.accounts[accountID]
	if !ok {
		return ErrConflict
	}
	switch {
	case expectedPrev == nil && a.BillingPayerID != nil:
		return ErrConflict
	case expectedPrev != nil && (a.BillingPayerID == nil || *a.BillingPayerID != *expectedPrev):
		return ErrConflict
	}
	p := newPayer
	a.BillingPayerID = &p
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) TransferOwnership(ctx context.Context, accountID, newOwner uuid.UUID) error {
	a, ok := t.staged.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	if a.OriginalOwnerID == nil {
		if a.OwnerID != nil {
			prev := *a.OwnerID
			a.OriginalOwnerID = &prev
		} else {
			self := a.ID
			a.OriginalOwnerID = &self
		}
	}
	o := newOwner
	a.OwnerID = &o
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) ClearAccessSuspension(ctx context.Context, accountID uuid.UUID) error {
	a, ok := t.staged.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.AccessSuspended = false
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *memTx) InsertTakeoverRecord(ctx context.Context, rec *TakeoverRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}
	cp := *rec
	t.staged.takeovers = append(t.staged.takeovers, &cp)
	return nil
}

// TakeoverRecords returns a copy of all recorded takeovers; test helper.
func (s *MemoryStore) TakeoverRecords() []TakeoverRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TakeoverRecord, 0, len(s.takeovers))
	for _, rec := range s.takeovers {
		out = append(out, *rec)
	}
	return out
}

// CommissionRecords returns a copy of all posted commissions; test helper.
func (s *MemoryStore) CommissionRecords() []CommissionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CommissionRecord, 0, len(s.commissions))
	for _, rec := range s.commissions {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneAccount(a *Account) *Account {
	cp := *a
	cp.BillingPayerID = cloneUUIDPtr(a.BillingPayerID)
	cp.OwnerID = cloneUUIDPtr(a.OwnerID)
	cp.OriginalOwnerID = cloneUUIDPtr(a.OriginalOwnerID)
	cp.GraceDeadline = cloneTimePtr(a.GraceDeadline)
	cp.OverdueSince = cloneTimePtr(a.OverdueSince)
	cp.DeactivatedAt = cloneTimePtr(a.DeactivatedAt)
	cp.SuspendedAt = cloneTimePtr(a.SuspendedAt)
	return &cp
}

func cloneSubscription(sub *Subscription) *Subscription {
	cp := *sub
	cp.ProviderID = cloneUUIDPtr(sub.ProviderID)
	cp.CurrentPeriodEnd = cloneTimePtr(sub.CurrentPeriodEnd)
	cp.GraceDeadline = cloneTimePtr(sub.GraceDeadline)
	return &cp
}

func cloneUUIDPtr(p *uuid.UUID) *uuid.UUID {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
