package payment

import (
	"context"
	"time"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// Client is the interface every payment processor integration implements.
// Implementations are thin HTTP wrappers; the processors' own behavior
// (hosted checkout pages, retries, dunning) stays on their side.
type Client interface {
	// Processor returns the identifier this client serves.
	Processor() domain.Processor

	// CreateCheckout mints a processor-hosted checkout session for a plan.
	// No local state is written; a Subscription row appears only when the
	// completion webhook arrives.
	CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*CheckoutSession, error)

	// GetSubscription looks up a subscription by the processor's own ID.
	GetSubscription(ctx context.Context, processorSubscriptionID string) (*ProcessorSubscription, error)

	// CancelSubscription cancels a subscription on the processor side.
	// The local state transition happens via the reconciler, not here.
	CancelSubscription(ctx context.Context, processorSubscriptionID string) error
}

// CreateCheckoutParams contains parameters for creating a checkout session.
type CreateCheckoutParams struct {
	// TenantID and UserID are embedded as processor metadata so the
	// completion webhook can be attributed without a local session record.
	TenantID string
	UserID   string

	PlanID       domain.PlanID
	BillingCycle domain.BillingCycle

	// PriceRef is the processor-specific price identifier for the
	// plan/cycle combination (Stripe price ID, Mercado Pago plan ID).
	PriceRef string

	// AmountCents and Currency are used by processors that take explicit
	// amounts instead of price references.
	AmountCents int64
	Currency    string

	// CustomerEmail prefills the checkout page. Optional.
	CustomerEmail string

	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the transient result of checkout creation. It is
// returned to the caller and not tracked further; reconciliation depends
// only on the subsequent webhook.
type CheckoutSession struct {
	Processor domain.Processor
	URL       string
	Currency  string
	ExpiresAt time.Time
}

// ProcessorSubscription is a processor-side subscription snapshot, used by
// the lookup passthrough endpoint and by reconciliation backfills.
type ProcessorSubscription struct {
	ID               string
	Status           string
	PlanID           string
	AmountCents      int64
	Currency         string
	CurrentPeriodEnd time.Time
	Metadata         map[string]string
}
