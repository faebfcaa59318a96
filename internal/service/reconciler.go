package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/payment"
	"github.com/ortegalabs/fieldkeep/internal/store"
)

// ApplyResult describes what a reconciliation pass did with an event.
type ApplyResult string

const (
	// ResultApplied means the event produced a state change.
	ResultApplied ApplyResult = "applied"

	// ResultDuplicate means the event was already applied; nothing done.
	ResultDuplicate ApplyResult = "applied-duplicate"

	// ResultIgnored means the event was recorded but did not change
	// state: unknown type, unmet source-state precondition, or an event
	// for a subscription that does not exist.
	ResultIgnored ApplyResult = "ignored"
)

// Reconciler owns the subscription state machine. All mutations of
// Subscription rows flow through it, serialized per subscription by a
// keyed lock over (processor, processorSubscriptionId).
type Reconciler struct {
	subs         store.SubscriptionRepository
	idempotency  store.IdempotencyStore
	entitlements *EntitlementUpdater
	locks        *KeyedLock
	lockTimeout  time.Duration
	logger       *slog.Logger
}

func NewReconciler(
	subs store.SubscriptionRepository,
	idempotency store.IdempotencyStore,
	entitlements *EntitlementUpdater,
	locks *KeyedLock,
	lockTimeout time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		subs:         subs,
		idempotency:  idempotency,
		entitlements: entitlements,
		locks:        locks,
		lockTimeout:  lockTimeout,
		logger:       logger,
	}
}

func lockKey(processor domain.Processor, psid string) string {
	return string(processor) + ":" + psid
}

// Apply reconciles one canonical payment event. Returns ErrLockTimeout
// when the subscription's critical section cannot be entered in time;
// the caller retries with backoff. All other paths either apply the
// event, detect a duplicate, or record it as a no-op.
func (r *Reconciler) Apply(ctx context.Context, ev domain.CanonicalPaymentEvent) (ApplyResult, error) {
	release, err := r.locks.Acquire(ctx, lockKey(ev.Processor, ev.ProcessorSubscriptionID), r.lockTimeout)
	if err != nil {
		return "", err
	}
	defer release()

	log := r.logger.With(
		slog.String("processor", string(ev.Processor)),
		slog.String("event_id", ev.RawEventID),
		slog.String("event_type", string(ev.Type)),
		slog.String("processor_subscription_id", ev.ProcessorSubscriptionID))

	if _, err := r.idempotency.Get(ctx, ev.Processor, ev.RawEventID); err == nil {
		log.Info("duplicate event, skipping")
		return ResultDuplicate, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", domain.WrapError(err, domain.EINTERNAL, "reconciler.apply", "idempotency lookup failed")
	}

	sub, err := r.subs.GetByProcessorID(ctx, ev.Processor, ev.ProcessorSubscriptionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", domain.WrapError(err, domain.EINTERNAL, "reconciler.apply", "subscription lookup failed")
	}

	if ev.Type.IsCreation() {
		return r.applyCreation(ctx, ev, sub, log)
	}
	return r.applyTransition(ctx, ev, sub, log)
}

// applyCreation handles checkout-completed and subscription-created.
// Valid only when no row exists for the processor subscription ID or the
// existing one is cancelled; a new row is created at version 1 in state
// active.
func (r *Reconciler) applyCreation(ctx context.Context, ev domain.CanonicalPaymentEvent, existing *domain.Subscription, log *slog.Logger) (ApplyResult, error) {
	if existing != nil && existing.State != domain.StateCancelled {
		log.Warn("creation event for existing subscription, recording as no-op",
			slog.String("current_state", string(existing.State)))
		return r.recordNoop(ctx, ev)
	}
	if ev.TenantID == uuid.Nil {
		log.Warn("creation event without tenant attribution, recording as no-op")
		return r.recordNoop(ctx, ev)
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	cycle := ev.BillingCycle
	if cycle == "" {
		cycle = domain.BillingMonthly
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID:                      uuid.New(),
		TenantID:                ev.TenantID,
		Processor:               ev.Processor,
		ProcessorSubscriptionID: ev.ProcessorSubscriptionID,
		PlanID:                  ev.PlanID,
		BillingCycle:            cycle,
		State:                   domain.StateActive,
		Version:                 1,
		LastEventID:             ev.RawEventID,
		CurrentPeriodEnd:        cycle.PeriodFrom(occurred),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := r.subs.Insert(ctx, sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost a race outside the lock domain; treat as duplicate.
			log.Warn("subscription row already exists, recording as duplicate")
			return ResultDuplicate, nil
		}
		return "", domain.WrapError(err, domain.EINTERNAL, "reconciler.create", "failed to insert subscription")
	}

	if err := r.entitlements.Apply(ctx, sub); err != nil {
		return "", err
	}
	if err := r.record(ctx, ev, sub.Version); err != nil {
		return "", err
	}

	log.Info("subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tenant_id", sub.TenantID.String()),
		slog.String("plan", string(sub.PlanID)))
	return ResultApplied, nil
}

// applyTransition handles every non-creation event through the state
// machine table.
func (r *Reconciler) applyTransition(ctx context.Context, ev domain.CanonicalPaymentEvent, sub *domain.Subscription, log *slog.Logger) (ApplyResult, error) {
	if sub == nil {
		log.Warn("event for unknown subscription, recording as no-op")
		return r.recordNoop(ctx, ev)
	}

	next, ok := domain.NextState(sub.State, ev.Type)
	if !ok {
		log.Warn("out-of-order or unknown event, state unchanged",
			slog.String("current_state", string(sub.State)))
		return r.recordNoop(ctx, ev)
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	sub.State = next
	sub.Version++
	sub.LastEventID = ev.RawEventID
	sub.UpdatedAt = time.Now().UTC()
	if ev.Type == domain.EventPaymentApproved {
		sub.CurrentPeriodEnd = sub.BillingCycle.PeriodFrom(occurred)
	}

	if err := r.subs.Update(ctx, sub); err != nil {
		return "", domain.WrapError(err, domain.EINTERNAL, "reconciler.transition", "failed to update subscription")
	}
	if err := r.entitlements.Apply(ctx, sub); err != nil {
		return "", err
	}
	if err := r.record(ctx, ev, sub.Version); err != nil {
		return "", err
	}

	log.Info("subscription transitioned",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("new_state", string(next)),
		slog.Int64("version", sub.Version))
	return ResultApplied, nil
}

// Cancel performs a user-initiated cancellation. It shares the lock
// domain with webhook reconciliation, so a stale payment-approved webhook
// racing a cancel cannot interleave.
func (r *Reconciler) Cancel(ctx context.Context, client payment.Client, tenantID uuid.UUID, processor domain.Processor, psid string) (*domain.Subscription, error) {
	release, err := r.locks.Acquire(ctx, lockKey(processor, psid), r.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return nil, domain.Unavailable(err, "subscription.cancel", "subscription is busy, try again")
		}
		return nil, err
	}
	defer release()

	sub, err := r.subs.GetByProcessorID(ctx, processor, psid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("subscription.cancel", "subscription", psid)
		}
		return nil, domain.WrapError(err, domain.EINTERNAL, "subscription.cancel", "subscription lookup failed")
	}
	if sub.TenantID != tenantID {
		return nil, domain.ErrTenantMismatch
	}

	next, ok := domain.NextState(sub.State, domain.EventSubscriptionCancelled)
	if !ok {
		return nil, domain.Conflict("subscription.cancel",
			"subscription cannot be cancelled from state "+string(sub.State))
	}

	// Cancel processor-side first; a local-only cancellation would keep
	// billing the user.
	if err := client.CancelSubscription(ctx, psid); err != nil {
		switch {
		case errors.Is(err, payment.ErrSubscriptionNotFound):
			// Already gone on the processor side; proceed locally.
			r.logger.Warn("subscription missing on processor during cancel",
				slog.String("processor", string(processor)),
				slog.String("processor_subscription_id", psid))
		case errors.Is(err, payment.ErrUnavailable):
			return nil, domain.Unavailable(err, "subscription.cancel", "payment processor is unavailable")
		default:
			return nil, domain.WrapError(err, domain.EPAYMENT, "subscription.cancel", "processor rejected cancellation")
		}
	}

	sub.State = next
	sub.Version++
	sub.UpdatedAt = time.Now().UTC()
	if err := r.subs.Update(ctx, sub); err != nil {
		return nil, domain.WrapError(err, domain.EINTERNAL, "subscription.cancel", "failed to update subscription")
	}
	if err := r.entitlements.Apply(ctx, sub); err != nil {
		return nil, err
	}

	r.logger.Info("subscription cancelled by user",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("tenant_id", sub.TenantID.String()))
	return sub, nil
}

// recordNoop marks an event as seen without a state change so replays
// short-circuit as duplicates.
func (r *Reconciler) recordNoop(ctx context.Context, ev domain.CanonicalPaymentEvent) (ApplyResult, error) {
	if err := r.record(ctx, ev, 0); err != nil {
		return "", err
	}
	return ResultIgnored, nil
}

func (r *Reconciler) record(ctx context.Context, ev domain.CanonicalPaymentEvent, version int64) error {
	err := r.idempotency.Put(ctx, &store.IdempotencyRecord{
		Processor:                    ev.Processor,
		RawEventID:                   ev.RawEventID,
		AppliedAt:                    time.Now().UTC(),
		ResultingSubscriptionVersion: version,
	})
	if err != nil {
		return domain.WrapError(err, domain.EINTERNAL, "reconciler.record", "failed to write idempotency record")
	}
	return nil
}
