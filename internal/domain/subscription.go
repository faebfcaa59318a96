package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Processor identifies one of the supported payment processors.
// The set is closed: exactly one domestic and one international processor.
type Processor string

const (
	// ProcessorMercadoPago is the domestic processor for Argentine users.
	ProcessorMercadoPago Processor = "mercadopago"

	// ProcessorStripe is the international processor for everyone else.
	ProcessorStripe Processor = "stripe"
)

// ParseProcessor validates a processor name from an external source
// (URL path, request body). Returns false for anything outside the set.
func ParseProcessor(s string) (Processor, bool) {
	switch Processor(s) {
	case ProcessorMercadoPago, ProcessorStripe:
		return Processor(s), true
	}
	return "", false
}

// BillingCycle is the subscription renewal period.
type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingYearly  BillingCycle = "yearly"
)

// ParseBillingCycle validates a billing cycle string, defaulting to monthly
// when empty (the checkout body's billingCycle field is optional).
func ParseBillingCycle(s string) (BillingCycle, bool) {
	switch s {
	case "":
		return BillingMonthly, true
	case string(BillingMonthly), string(BillingYearly):
		return BillingCycle(s), true
	}
	return "", false
}

// PeriodFrom returns the entitlement expiry for a period starting at t.
func (c BillingCycle) PeriodFrom(t time.Time) time.Time {
	if c == BillingYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// SubscriptionState is the canonical lifecycle state of a tenant subscription.
//
// pending → active ⇄ past_due → cancelled, plus terminal expired.
type SubscriptionState string

const (
	StatePending   SubscriptionState = "pending"
	StateActive    SubscriptionState = "active"
	StatePastDue   SubscriptionState = "past_due"
	StateCancelled SubscriptionState = "cancelled"
	StateExpired   SubscriptionState = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SubscriptionState) Terminal() bool {
	return s == StateExpired
}

// EventType is the processor-agnostic classification of a payment event.
type EventType string

const (
	EventCheckoutCompleted     EventType = "checkout_completed"
	EventSubscriptionCreated   EventType = "subscription_created"
	EventPaymentApproved       EventType = "payment_approved"
	EventPaymentFailed         EventType = "payment_failed"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionExpired   EventType = "subscription_expired"

	// EventUnknown marks a processor notification that has no canonical
	// meaning. It is recorded and ignored, never applied.
	EventUnknown EventType = "unknown"
)

// IsCreation reports whether the event type creates a subscription.
// Creation events are valid only when no subscription exists for the
// processor subscription ID, or when the existing one is cancelled.
func (e EventType) IsCreation() bool {
	return e == EventCheckoutCompleted || e == EventSubscriptionCreated
}

// transitions is the state machine for non-creation events:
// event type → allowed source states → resulting state.
var transitions = map[EventType]map[SubscriptionState]SubscriptionState{
	EventPaymentApproved: {
		StateActive:  StateActive,
		StatePastDue: StateActive,
	},
	EventPaymentFailed: {
		StateActive: StatePastDue,
	},
	EventSubscriptionCancelled: {
		StateActive:  StateCancelled,
		StatePastDue: StateCancelled,
	},
	EventSubscriptionExpired: {
		StatePending:   StateExpired,
		StateActive:    StateExpired,
		StatePastDue:   StateExpired,
		StateCancelled: StateExpired,
	},
}

// NextState returns the state that applying ev to current yields.
// ok is false when the event is unknown or its source-state precondition
// is not met; callers must record the event and leave state unchanged.
func NextState(current SubscriptionState, ev EventType) (SubscriptionState, bool) {
	row, found := transitions[ev]
	if !found {
		return current, false
	}
	next, allowed := row[current]
	if !allowed {
		return current, false
	}
	return next, true
}

// Subscription is the canonical tenant subscription record.
// Owned by the reconciler: created on the first checkout-completion event,
// never by user action, and mutated only under the per-subscription lock.
type Subscription struct {
	ID                      uuid.UUID
	TenantID                uuid.UUID
	Processor               Processor
	ProcessorSubscriptionID string
	PlanID                  PlanID
	BillingCycle            BillingCycle
	State                   SubscriptionState
	Version                 int64
	LastEventID             string
	CurrentPeriodEnd        time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// CanonicalPaymentEvent is the normalized form of a processor webhook.
// Produced by the webhook ingestor, consumed exactly once by the reconciler.
type CanonicalPaymentEvent struct {
	Processor               Processor       `json:"processor"`
	RawEventID              string          `json:"raw_event_id"`
	Type                    EventType       `json:"type"`
	ProcessorSubscriptionID string          `json:"processor_subscription_id"`
	PlanID                  PlanID          `json:"plan_id,omitempty"`
	BillingCycle            BillingCycle    `json:"billing_cycle,omitempty"`
	AmountCents             int64           `json:"amount_cents,omitempty"`
	Currency                string          `json:"currency,omitempty"`
	OccurredAt              time.Time       `json:"occurred_at"`
	Payload                 json.RawMessage `json:"payload,omitempty"`

	// TenantID is set when the processor payload carries tenant metadata
	// (creation events embed it at checkout time). For later events the
	// reconciler resolves the tenant from the stored subscription.
	TenantID uuid.UUID `json:"tenant_id,omitempty"`
}
