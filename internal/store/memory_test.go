package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/tenant"
)

func testSubscription(psid string) *domain.Subscription {
	now := time.Now().UTC()
	return &domain.Subscription{
		ID:                      uuid.New(),
		TenantID:                uuid.New(),
		Processor:               domain.ProcessorStripe,
		ProcessorSubscriptionID: psid,
		PlanID:                  domain.PlanProfessional,
		BillingCycle:            domain.BillingMonthly,
		State:                   domain.StatePending,
		Version:                 1,
		LastEventID:             "evt_1",
		CurrentPeriodEnd:        now.Add(30 * 24 * time.Hour),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

func TestMemorySubscriptionRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySubscriptionRepository()

	sub := testSubscription("ps_1")
	require.NoError(t, repo.Insert(ctx, sub))

	got, err := repo.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, int64(1), got.Version)

	_, err = repo.GetByProcessorID(ctx, domain.ProcessorMercadoPago, "ps_1")
	assert.ErrorIs(t, err, ErrNotFound)

	got.State = domain.StateActive
	got.Version = 2
	require.NoError(t, repo.Update(ctx, got))

	again, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, again.State)
	assert.Equal(t, int64(2), again.Version)

	byTenant, err := repo.GetByTenant(ctx, sub.TenantID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byTenant.ID)
}

func TestMemorySubscriptionRepositoryVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySubscriptionRepository()

	sub := testSubscription("ps_1")
	require.NoError(t, repo.Insert(ctx, sub))

	stale := *sub
	stale.Version = 3 // stored version is 1, expected predecessor 2
	assert.ErrorIs(t, repo.Update(ctx, &stale), ErrVersionConflict)
}

func TestMemorySubscriptionRepositoryDuplicateInsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySubscriptionRepository()
	require.NoError(t, repo.Insert(ctx, testSubscription("ps_1")))

	dup := testSubscription("ps_1")
	assert.ErrorIs(t, repo.Insert(ctx, dup), ErrDuplicate)
}

func TestMemorySubscriptionRepositoryReplacesCancelledRow(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySubscriptionRepository()

	old := testSubscription("ps_1")
	old.State = domain.StateCancelled
	require.NoError(t, repo.Insert(ctx, old))

	replacement := testSubscription("ps_1")
	replacement.CreatedAt = old.CreatedAt.Add(time.Minute)
	require.NoError(t, repo.Insert(ctx, replacement))

	got, err := repo.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.ID)
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdempotencyStore()

	_, err := s.Get(ctx, domain.ProcessorStripe, "evt_1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &IdempotencyRecord{
		Processor:                    domain.ProcessorStripe,
		RawEventID:                   "evt_1",
		AppliedAt:                    time.Now().UTC(),
		ResultingSubscriptionVersion: 2,
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, domain.ProcessorStripe, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ResultingSubscriptionVersion)

	// Same event ID under the other processor is a distinct key.
	_, err = s.Get(ctx, domain.ProcessorMercadoPago, "evt_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryTenantStoreEntitlement(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTenantStore()

	tenantID := uuid.New()
	s.Seed(&tenant.Tenant{ID: tenantID, Plan: domain.PlanStarter, PlanStatus: domain.PlanExpired})

	expires := time.Now().UTC().Add(30 * 24 * time.Hour)
	require.NoError(t, s.UpdateEntitlement(ctx, tenantID, domain.PlanProfessional, domain.PlanActive, expires))

	got, err := s.Get(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanProfessional, got.Plan)
	assert.Equal(t, domain.PlanActive, got.PlanStatus)
	assert.WithinDuration(t, expires, got.SubscriptionExpiresAt, time.Second)

	err = s.UpdateEntitlement(ctx, uuid.New(), domain.PlanStarter, domain.PlanActive, expires)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDeadLetterStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDeadLetterStore()

	for i := 0; i < 3; i++ {
		err := s.Add(ctx, &DeadLetter{
			ID:        uuid.New(),
			Event:     domain.CanonicalPaymentEvent{Processor: domain.ProcessorStripe, RawEventID: "evt"},
			Attempts:  5,
			LastError: "processor unavailable",
			FirstSeen: time.Now().UTC(),
			DeadAt:    time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	letters, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, letters, 2)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
