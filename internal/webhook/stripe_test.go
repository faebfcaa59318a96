package webhook

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

const stripeTestSecret = "whsec_test_secret"

func signStripe(t *testing.T, payload []byte) string {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeTestSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestStripeVerifyValidSignature(t *testing.T) {
	n := NewStripeNormalizer(stripeTestSecret)
	payload := []byte(`{"id": "evt_1", "type": "invoice.paid", "data": {"object": {"subscription": "sub_1"}}}`)

	header := http.Header{}
	header.Set("Stripe-Signature", signStripe(t, payload))
	assert.NoError(t, n.Verify(payload, header))
}

// Endpoints are pinned to older API versions than the SDK; a well-signed
// event from one must still verify.
func TestStripeVerifyToleratesAPIVersionMismatch(t *testing.T) {
	n := NewStripeNormalizer(stripeTestSecret)
	payload := []byte(`{"id": "evt_1", "api_version": "2020-08-27", "type": "invoice.paid", "data": {"object": {"subscription": "sub_1"}}}`)

	header := http.Header{}
	header.Set("Stripe-Signature", signStripe(t, payload))
	assert.NoError(t, n.Verify(payload, header))
}

func TestStripeVerifyRejectsTamperedPayload(t *testing.T) {
	n := NewStripeNormalizer(stripeTestSecret)
	payload := []byte(`{"id": "evt_1", "type": "invoice.paid", "data": {"object": {"subscription": "sub_1"}}}`)

	header := http.Header{}
	header.Set("Stripe-Signature", signStripe(t, payload))

	tampered := []byte(`{"id": "evt_1", "type": "invoice.paid", "data": {"object": {"subscription": "sub_2"}}}`)
	assert.Error(t, n.Verify(tampered, header))
}

func TestStripeVerifyMissingHeader(t *testing.T) {
	n := NewStripeNormalizer(stripeTestSecret)
	assert.Error(t, n.Verify([]byte(`{}`), http.Header{}))
}

func TestStripeNormalize(t *testing.T) {
	n := NewStripeNormalizer(stripeTestSecret)

	tests := []struct {
		name     string
		payload  string
		wantType domain.EventType
		wantSub  string
	}{
		{
			name:     "checkout session completed",
			payload:  `{"id": "evt_1", "type": "checkout.session.completed", "created": 1700000000, "data": {"object": {"id": "cs_1", "subscription": "sub_1"}}}`,
			wantType: domain.EventCheckoutCompleted,
			wantSub:  "sub_1",
		},
		{
			name:     "subscription created",
			payload:  `{"id": "evt_2", "type": "customer.subscription.created", "data": {"object": {"id": "sub_1"}}}`,
			wantType: domain.EventSubscriptionCreated,
			wantSub:  "sub_1",
		},
		{
			name:     "invoice payment succeeded",
			payload:  `{"id": "evt_3", "type": "invoice.payment_succeeded", "data": {"object": {"id": "in_1", "subscription": "sub_1", "amount_paid": 2900, "currency": "usd"}}}`,
			wantType: domain.EventPaymentApproved,
			wantSub:  "sub_1",
		},
		{
			name:     "invoice payment failed",
			payload:  `{"id": "evt_4", "type": "invoice.payment_failed", "data": {"object": {"id": "in_2", "subscription": "sub_1", "amount_due": 2900}}}`,
			wantType: domain.EventPaymentFailed,
			wantSub:  "sub_1",
		},
		{
			name:     "subscription deleted",
			payload:  `{"id": "evt_5", "type": "customer.subscription.deleted", "data": {"object": {"id": "sub_1"}}}`,
			wantType: domain.EventSubscriptionCancelled,
			wantSub:  "sub_1",
		},
		{
			name:     "unhandled event type",
			payload:  `{"id": "evt_6", "type": "customer.updated", "data": {"object": {"id": "cus_1"}}}`,
			wantType: domain.EventUnknown,
			wantSub:  "cus_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := n.Normalize([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, domain.ProcessorStripe, ev.Processor)
			assert.Equal(t, tt.wantType, ev.Type)
			assert.Equal(t, tt.wantSub, ev.ProcessorSubscriptionID)
		})
	}
}

func TestStripeNormalizeMetadata(t *testing.T) {
	n := NewStripeNormalizer(stripeTestSecret)
	tenantID := uuid.New()

	payload := fmt.Sprintf(`{"id": "evt_1", "type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "subscription": "sub_1",
		"metadata": {"tenant_id": "%s", "plan_id": "professional", "billing_cycle": "yearly"}}}}`, tenantID)

	ev, err := n.Normalize([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, tenantID, ev.TenantID)
	assert.Equal(t, domain.PlanProfessional, ev.PlanID)
	assert.Equal(t, domain.BillingYearly, ev.BillingCycle)
}

func TestStripeNormalizeRejectsMissingSubscription(t *testing.T) {
	n := NewStripeNormalizer(stripeTestSecret)

	_, err := n.Normalize([]byte(`{"id": "evt_1", "type": "invoice.paid", "data": {"object": {"id": "in_1"}}}`))
	assert.Error(t, err)

	_, err = n.Normalize([]byte(`not json`))
	assert.Error(t, err)
}
