package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/tenant"
)

// MemorySubscriptionRepository is an in-memory SubscriptionRepository for
// tests and single-node development.
type MemorySubscriptionRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*domain.Subscription
}

func NewMemorySubscriptionRepository() *MemorySubscriptionRepository {
	return &MemorySubscriptionRepository{byID: make(map[uuid.UUID]*domain.Subscription)}
}

func (r *MemorySubscriptionRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *MemorySubscriptionRepository) GetByProcessorID(_ context.Context, processor domain.Processor, psid string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sub := r.lookupLocked(processor, psid); sub != nil {
		cp := *sub
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (r *MemorySubscriptionRepository) GetByTenant(_ context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Subscription
	for _, sub := range r.byID {
		if sub.TenantID != tenantID {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *MemorySubscriptionRepository) Insert(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.lookupLocked(sub.Processor, sub.ProcessorSubscriptionID); existing != nil && !existing.State.Terminal() && existing.State != domain.StateCancelled {
		return ErrDuplicate
	}
	if _, ok := r.byID[sub.ID]; ok {
		return ErrDuplicate
	}
	cp := *sub
	r.byID[sub.ID] = &cp
	return nil
}

func (r *MemorySubscriptionRepository) Update(_ context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[sub.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != sub.Version-1 {
		return ErrVersionConflict
	}
	cp := *sub
	r.byID[sub.ID] = &cp
	return nil
}

// lookupLocked returns the most recent row for the processor pair, so a
// cancelled row does not shadow its replacement.
func (r *MemorySubscriptionRepository) lookupLocked(processor domain.Processor, psid string) *domain.Subscription {
	var latest *domain.Subscription
	for _, sub := range r.byID {
		if sub.Processor != processor || sub.ProcessorSubscriptionID != psid {
			continue
		}
		if latest == nil || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
		}
	}
	return latest
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu   sync.RWMutex
	recs map[string]*IdempotencyRecord
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{recs: make(map[string]*IdempotencyRecord)}
}

func idempotencyKey(processor domain.Processor, rawEventID string) string {
	return string(processor) + ":" + rawEventID
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, processor domain.Processor, rawEventID string) (*IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[idempotencyKey(processor, rawEventID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, rec *IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.recs[idempotencyKey(rec.Processor, rec.RawEventID)] = &cp
	return nil
}

// MemoryTenantStore is an in-memory TenantStore.
type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*tenant.Tenant
}

func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[uuid.UUID]*tenant.Tenant)}
}

// Seed inserts a tenant directly, for tests and development bootstrap.
func (s *MemoryTenantStore) Seed(t *tenant.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
}

func (s *MemoryTenantStore) Get(_ context.Context, tenantID uuid.UUID) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryTenantStore) UpdateEntitlement(_ context.Context, tenantID uuid.UUID, plan domain.PlanID, status domain.PlanStatus, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.Plan = plan
	t.PlanStatus = status
	t.SubscriptionExpiresAt = expiresAt
	return nil
}

// MemoryDeadLetterStore is an in-memory DeadLetterStore.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	letters []*DeadLetter
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{}
}

func (s *MemoryDeadLetterStore) Add(_ context.Context, dl *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *dl
	s.letters = append(s.letters, &cp)
	return nil
}

func (s *MemoryDeadLetterStore) List(_ context.Context, limit int) ([]*DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.letters) {
		limit = len(s.letters)
	}
	out := make([]*DeadLetter, 0, limit)
	for _, dl := range s.letters[:limit] {
		cp := *dl
		out = append(out, &cp)
	}
	return out, nil
}
