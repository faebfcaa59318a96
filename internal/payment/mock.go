package payment

import (
	"context"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// MockClient implements Client with function fields for testing.
type MockClient struct {
	ProcessorValue         domain.Processor
	CreateCheckoutFunc     func(ctx context.Context, params CreateCheckoutParams) (*CheckoutSession, error)
	GetSubscriptionFunc    func(ctx context.Context, processorSubscriptionID string) (*ProcessorSubscription, error)
	CancelSubscriptionFunc func(ctx context.Context, processorSubscriptionID string) error
}

func (m *MockClient) Processor() domain.Processor {
	if m.ProcessorValue == "" {
		return domain.ProcessorStripe
	}
	return m.ProcessorValue
}

func (m *MockClient) CreateCheckout(ctx context.Context, params CreateCheckoutParams) (*CheckoutSession, error) {
	if m.CreateCheckoutFunc != nil {
		return m.CreateCheckoutFunc(ctx, params)
	}
	return &CheckoutSession{
		Processor: m.Processor(),
		URL:       "https://checkout.example.com/session/mock",
		Currency:  "USD",
	}, nil
}

func (m *MockClient) GetSubscription(ctx context.Context, processorSubscriptionID string) (*ProcessorSubscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, processorSubscriptionID)
	}
	return &ProcessorSubscription{ID: processorSubscriptionID, Status: "active"}, nil
}

func (m *MockClient) CancelSubscription(ctx context.Context, processorSubscriptionID string) error {
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, processorSubscriptionID)
	}
	return nil
}
