package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/payment"
	"github.com/ortegalabs/fieldkeep/internal/store"
	"github.com/ortegalabs/fieldkeep/internal/tenant"
)

type reconcilerFixture struct {
	reconciler *Reconciler
	subs       *store.MemorySubscriptionRepository
	idem       *store.MemoryIdempotencyStore
	tenants    *store.MemoryTenantStore
	tenantID   uuid.UUID
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	subs := store.NewMemorySubscriptionRepository()
	idem := store.NewMemoryIdempotencyStore()
	tenants := store.NewMemoryTenantStore()

	tenantID := uuid.New()
	tenants.Seed(&tenant.Tenant{
		ID:         tenantID,
		Plan:       domain.PlanStarter,
		PlanStatus: domain.PlanExpired,
	})

	reconciler := NewReconciler(
		subs,
		idem,
		NewEntitlementUpdater(tenants, nil),
		NewKeyedLock(),
		time.Second,
		nil,
	)
	return &reconcilerFixture{
		reconciler: reconciler,
		subs:       subs,
		idem:       idem,
		tenants:    tenants,
		tenantID:   tenantID,
	}
}

func creationEvent(f *reconcilerFixture, eventID, psid string) domain.CanonicalPaymentEvent {
	return domain.CanonicalPaymentEvent{
		Processor:               domain.ProcessorStripe,
		RawEventID:              eventID,
		Type:                    domain.EventSubscriptionCreated,
		ProcessorSubscriptionID: psid,
		PlanID:                  domain.PlanProfessional,
		BillingCycle:            domain.BillingMonthly,
		OccurredAt:              time.Now().UTC(),
		TenantID:                f.tenantID,
	}
}

func transitionEvent(eventID, psid string, typ domain.EventType) domain.CanonicalPaymentEvent {
	return domain.CanonicalPaymentEvent{
		Processor:               domain.ProcessorStripe,
		RawEventID:              eventID,
		Type:                    typ,
		ProcessorSubscriptionID: psid,
		OccurredAt:              time.Now().UTC(),
	}
}

func TestApplyCreationCreatesActiveSubscription(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	result, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	sub, err := f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sub.State)
	assert.Equal(t, int64(1), sub.Version)
	assert.Equal(t, f.tenantID, sub.TenantID)

	tn, err := f.tenants.Get(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanActive, tn.PlanStatus)
	assert.Equal(t, domain.PlanProfessional, tn.Plan)
}

// A subscription-created event delivered twice yields exactly one row;
// the replay is reported as a duplicate.
func TestApplyDuplicateEventIsNoop(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	ev := creationEvent(f, "evt_1", "ps_1")

	first, err := f.reconciler.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, first)

	second, err := f.reconciler.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, second)

	sub, err := f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.Version)
}

// payment-failed downgrades an active subscription to past_due and the
// tenant to suspended; a subsequent payment-approved restores both.
func TestApplyPaymentFailureAndRecovery(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)

	result, err := f.reconciler.Apply(ctx, transitionEvent("evt_2", "ps_1", domain.EventPaymentFailed))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	sub, err := f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePastDue, sub.State)
	assert.Equal(t, int64(2), sub.Version)

	tn, err := f.tenants.Get(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanSuspended, tn.PlanStatus)

	result, err = f.reconciler.Apply(ctx, transitionEvent("evt_3", "ps_1", domain.EventPaymentApproved))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	sub, err = f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sub.State)
	assert.Equal(t, int64(3), sub.Version)

	tn, err = f.tenants.Get(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanActive, tn.PlanStatus)
}

// A late payment-approved for a cancelled subscription is recorded but
// leaves state and version unchanged.
func TestApplyRejectsEventFromInvalidSourceState(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)
	_, err = f.reconciler.Apply(ctx, transitionEvent("evt_2", "ps_1", domain.EventSubscriptionCancelled))
	require.NoError(t, err)

	result, err := f.reconciler.Apply(ctx, transitionEvent("evt_3", "ps_1", domain.EventPaymentApproved))
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, result)

	sub, err := f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, sub.State)
	assert.Equal(t, int64(2), sub.Version)

	// The ignored event is still recorded, so its redelivery is a duplicate.
	result, err = f.reconciler.Apply(ctx, transitionEvent("evt_3", "ps_1", domain.EventPaymentApproved))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, result)
}

func TestApplyUnknownEventTypeIsIgnored(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)

	result, err := f.reconciler.Apply(ctx, transitionEvent("evt_2", "ps_1", domain.EventUnknown))
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, result)

	sub, err := f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.Version)
}

func TestApplyEventForUnknownSubscription(t *testing.T) {
	f := newReconcilerFixture(t)

	result, err := f.reconciler.Apply(context.Background(), transitionEvent("evt_1", "ps_missing", domain.EventPaymentApproved))
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, result)
}

// Creation is allowed again after cancellation: a new row at version 1.
func TestApplyCreationAfterCancellation(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)
	_, err = f.reconciler.Apply(ctx, transitionEvent("evt_2", "ps_1", domain.EventSubscriptionCancelled))
	require.NoError(t, err)

	result, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_3", "ps_1"))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)

	sub, err := f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sub.State)
	assert.Equal(t, int64(1), sub.Version)
}

// Concurrent deliveries of distinct events for the same subscription are
// serialized: every version from 2..N+1 appears exactly once.
func TestApplyConcurrentEventsAreSerialized(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_0", "ps_1"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := domain.EventPaymentApproved
			if i%2 == 1 {
				typ = domain.EventPaymentFailed
			}
			ev := transitionEvent("evt_concurrent_"+uuid.NewString(), "ps_1", typ)
			_, err := f.reconciler.Apply(ctx, ev)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sub, err := f.subs.GetByProcessorID(ctx, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	// Every applied event incremented the version by exactly one; ignored
	// ones left it alone. Either way the row is internally consistent.
	assert.GreaterOrEqual(t, sub.Version, int64(2))
	assert.Contains(t, []domain.SubscriptionState{domain.StateActive, domain.StatePastDue}, sub.State)
}

func TestCancelFromPastDue(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)
	_, err = f.reconciler.Apply(ctx, transitionEvent("evt_2", "ps_1", domain.EventPaymentFailed))
	require.NoError(t, err)

	cancelled := false
	client := &payment.MockClient{
		ProcessorValue: domain.ProcessorStripe,
		CancelSubscriptionFunc: func(ctx context.Context, psid string) error {
			cancelled = true
			return nil
		},
	}

	sub, err := f.reconciler.Cancel(ctx, client, f.tenantID, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, domain.StateCancelled, sub.State)

	tn, err := f.tenants.Get(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanExpired, tn.PlanStatus)
}

func TestCancelRejectsForeignTenant(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)

	client := &payment.MockClient{ProcessorValue: domain.ProcessorStripe}
	_, err = f.reconciler.Cancel(ctx, client, uuid.New(), domain.ProcessorStripe, "ps_1")
	require.Error(t, err)
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
}

func TestCancelFromCancelledStateConflicts(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Apply(ctx, creationEvent(f, "evt_1", "ps_1"))
	require.NoError(t, err)

	client := &payment.MockClient{ProcessorValue: domain.ProcessorStripe}
	_, err = f.reconciler.Cancel(ctx, client, f.tenantID, domain.ProcessorStripe, "ps_1")
	require.NoError(t, err)

	_, err = f.reconciler.Cancel(ctx, client, f.tenantID, domain.ProcessorStripe, "ps_1")
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}
