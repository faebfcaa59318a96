// Package store defines the persistence interfaces for subscriptions,
// idempotency records, tenant entitlements and dead-lettered events, with
// in-memory, Postgres and Redis implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/tenant"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrVersionConflict is returned when an update carries a stale
	// version. The reconciler's per-subscription locking makes this rare;
	// surfacing it rather than silently overwriting keeps the optimistic
	// check honest.
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrDuplicate is returned when inserting a record that already
	// exists under its unique key.
	ErrDuplicate = errors.New("store: duplicate record")
)

// SubscriptionRepository persists subscription rows keyed both by local
// ID and by (processor, processor subscription ID).
type SubscriptionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	GetByProcessorID(ctx context.Context, processor domain.Processor, processorSubscriptionID string) (*domain.Subscription, error)
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)

	// Insert creates a new row at version 1. Returns ErrDuplicate if a
	// non-terminal row already exists for the processor subscription ID.
	Insert(ctx context.Context, sub *domain.Subscription) error

	// Update writes a row whose Version has already been incremented by
	// the caller. The write only lands if the stored version equals
	// sub.Version-1, otherwise ErrVersionConflict.
	Update(ctx context.Context, sub *domain.Subscription) error
}

// IdempotencyRecord marks a processor event as applied.
type IdempotencyRecord struct {
	Processor  domain.Processor
	RawEventID string
	AppliedAt  time.Time

	// ResultingSubscriptionVersion is the subscription version the event
	// produced, 0 when the event was recorded as a no-op.
	ResultingSubscriptionVersion int64
}

// IdempotencyStore records which (processor, event ID) pairs have been
// applied so redeliveries short-circuit.
type IdempotencyStore interface {
	// Get returns the record for the pair, or ErrNotFound.
	Get(ctx context.Context, processor domain.Processor, rawEventID string) (*IdempotencyRecord, error)

	// Put stores a record. Writing an existing pair overwrites it; the
	// reconciler only calls Put while holding the subscription lock.
	Put(ctx context.Context, rec *IdempotencyRecord) error
}

// TenantStore reads and updates tenant entitlement projections.
type TenantStore interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*tenant.Tenant, error)

	// UpdateEntitlement overwrites the tenant's plan projection. Callers
	// derive the arguments from a subscription row, so repeated calls
	// with the same row are naturally idempotent.
	UpdateEntitlement(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID, status domain.PlanStatus, expiresAt time.Time) error
}

// DeadLetter is an event that exhausted its reconciliation retries.
type DeadLetter struct {
	ID        uuid.UUID
	Event     domain.CanonicalPaymentEvent
	Attempts  int
	LastError string
	FirstSeen time.Time
	DeadAt    time.Time
}

// DeadLetterStore holds events set aside for manual replay.
type DeadLetterStore interface {
	Add(ctx context.Context, dl *DeadLetter) error
	List(ctx context.Context, limit int) ([]*DeadLetter, error)
}
