package payment

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// StripeConfig contains configuration for the international processor.
type StripeConfig struct {
	APIKey string

	// Timeout bounds every outbound call. Expiry surfaces as ErrUnavailable
	// rather than hanging the caller.
	Timeout time.Duration
}

// StripeClient implements Client using the official Stripe SDK.
// Stripe serves every country outside the domestic set.
type StripeClient struct {
	api     *client.API
	timeout time.Duration
}

// NewStripeClient creates the international processor client.
func NewStripeClient(cfg StripeConfig) *StripeClient {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &StripeClient{api: api, timeout: timeout}
}

func (c *StripeClient) Processor() domain.Processor {
	return domain.ProcessorStripe
}

// CreateCheckout creates a Stripe Checkout Session in subscription mode.
// Tenant and user IDs ride along as subscription metadata so the
// completion webhook can be attributed.
func (c *StripeClient) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sessionParams := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceRef),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"tenant_id":     params.TenantID,
				"user_id":       params.UserID,
				"plan_id":       string(params.PlanID),
				"billing_cycle": string(params.BillingCycle),
			},
		},
		// Duplicated on the session itself so checkout.session.completed
		// can be attributed without a subscription fetch.
		Metadata: map[string]string{
			"tenant_id":     params.TenantID,
			"user_id":       params.UserID,
			"plan_id":       string(params.PlanID),
			"billing_cycle": string(params.BillingCycle),
		},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	sessionParams.Context = ctx

	sess, err := c.api.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, c.wrap("checkout.create", err)
	}

	currency := string(sess.Currency)
	if currency == "" {
		currency = params.Currency
	}

	return &CheckoutSession{
		Processor: domain.ProcessorStripe,
		URL:       sess.URL,
		Currency:  currency,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0),
	}, nil
}

// GetSubscription retrieves a Stripe subscription by ID.
func (c *StripeClient) GetSubscription(ctx context.Context, processorSubscriptionID string) (*ProcessorSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := c.api.Subscriptions.Get(processorSubscriptionID, params)
	if err != nil {
		return nil, c.wrap("subscription.get", err)
	}

	out := &ProcessorSubscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Metadata != nil {
		out.PlanID = sub.Metadata["plan_id"]
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		if item.Price != nil {
			out.AmountCents = item.Price.UnitAmount
			out.Currency = string(item.Price.Currency)
		}
	}
	return out, nil
}

// CancelSubscription cancels a Stripe subscription immediately.
func (c *StripeClient) CancelSubscription(ctx context.Context, processorSubscriptionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	if _, err := c.api.Subscriptions.Cancel(processorSubscriptionID, params); err != nil {
		return c.wrap("subscription.cancel", err)
	}
	return nil
}

// wrap converts a Stripe SDK error into the package's retryable /
// non-retryable taxonomy.
func (c *StripeClient) wrap(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return classify(string(domain.ProcessorStripe), op, stripeErr.HTTPStatusCode, stripeErr.Msg, nil)
	}
	return classify(string(domain.ProcessorStripe), op, 0, err.Error(), err)
}
