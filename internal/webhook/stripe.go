package webhook

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// StripeNormalizer verifies Stripe webhook signatures and maps Stripe
// event types onto the canonical taxonomy.
type StripeNormalizer struct {
	secret string
}

func NewStripeNormalizer(webhookSecret string) *StripeNormalizer {
	return &StripeNormalizer{secret: webhookSecret}
}

func (n *StripeNormalizer) Verify(payload []byte, header http.Header) error {
	signature := header.Get("Stripe-Signature")
	if signature == "" {
		return fmt.Errorf("missing Stripe-Signature header")
	}
	// Authenticity rests on the signature alone. The endpoint's pinned
	// API version trails the SDK's, so a version mismatch is not treated
	// as a verification failure.
	_, err := stripewebhook.ConstructEventWithOptions(payload, signature, n.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// stripeObject is the subset of webhook object payloads the normalizer
// reads, shared across event types.
type stripeObject struct {
	ID           string            `json:"id"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
	Currency     string            `json:"currency"`
	AmountPaid   int64             `json:"amount_paid"`
	AmountDue    int64             `json:"amount_due"`
}

func (n *StripeNormalizer) Normalize(payload []byte) (domain.CanonicalPaymentEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.CanonicalPaymentEvent{}, fmt.Errorf("parse event: %w", err)
	}
	if event.ID == "" {
		return domain.CanonicalPaymentEvent{}, fmt.Errorf("event has no id")
	}

	var obj stripeObject
	if len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
			return domain.CanonicalPaymentEvent{}, fmt.Errorf("parse event object: %w", err)
		}
	}

	ev := domain.CanonicalPaymentEvent{
		Processor:  domain.ProcessorStripe,
		RawEventID: event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		Currency:   obj.Currency,
		Payload:    payload,
	}

	switch event.Type {
	case "checkout.session.completed":
		ev.Type = domain.EventCheckoutCompleted
		ev.ProcessorSubscriptionID = obj.Subscription
	case "customer.subscription.created":
		ev.Type = domain.EventSubscriptionCreated
		ev.ProcessorSubscriptionID = obj.ID
	case "invoice.payment_succeeded", "invoice.paid":
		ev.Type = domain.EventPaymentApproved
		ev.ProcessorSubscriptionID = obj.Subscription
		ev.AmountCents = obj.AmountPaid
	case "invoice.payment_failed":
		ev.Type = domain.EventPaymentFailed
		ev.ProcessorSubscriptionID = obj.Subscription
		ev.AmountCents = obj.AmountDue
	case "customer.subscription.deleted":
		ev.Type = domain.EventSubscriptionCancelled
		ev.ProcessorSubscriptionID = obj.ID
	default:
		ev.Type = domain.EventUnknown
		ev.ProcessorSubscriptionID = obj.Subscription
		if ev.ProcessorSubscriptionID == "" {
			ev.ProcessorSubscriptionID = obj.ID
		}
	}

	applyStripeMetadata(&ev, obj.Metadata)

	if ev.Type != domain.EventUnknown && ev.ProcessorSubscriptionID == "" {
		return domain.CanonicalPaymentEvent{}, fmt.Errorf("event %s has no subscription reference", event.ID)
	}
	return ev, nil
}

func applyStripeMetadata(ev *domain.CanonicalPaymentEvent, metadata map[string]string) {
	if metadata == nil {
		return
	}
	if raw, ok := metadata["tenant_id"]; ok {
		if id, err := uuid.Parse(raw); err == nil {
			ev.TenantID = id
		}
	}
	if plan, ok := metadata["plan_id"]; ok {
		ev.PlanID = domain.PlanID(plan)
	}
	if cycle, ok := metadata["billing_cycle"]; ok {
		if parsed, valid := domain.ParseBillingCycle(cycle); valid {
			ev.BillingCycle = parsed
		}
	}
}
