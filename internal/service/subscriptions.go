package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/payment"
)

// SubscriptionService serves the subscription lookup passthrough and
// user-initiated cancellation. Cancellation is delegated to the
// reconciler so it shares the per-subscription lock domain with webhook
// reconciliation.
type SubscriptionService struct {
	clients    map[domain.Processor]payment.Client
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewSubscriptionService(clients map[domain.Processor]payment.Client, reconciler *Reconciler, logger *slog.Logger) *SubscriptionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionService{clients: clients, reconciler: reconciler, logger: logger}
}

func (s *SubscriptionService) client(processor domain.Processor) (payment.Client, error) {
	c, ok := s.clients[processor]
	if !ok {
		return nil, domain.Invalid("subscription.client", "unsupported processor: "+string(processor))
	}
	return c, nil
}

// Lookup fetches the processor-side subscription snapshot.
func (s *SubscriptionService) Lookup(ctx context.Context, processor domain.Processor, processorSubscriptionID string) (*payment.ProcessorSubscription, error) {
	client, err := s.client(processor)
	if err != nil {
		return nil, err
	}

	sub, err := client.GetSubscription(ctx, processorSubscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrSubscriptionNotFound):
			return nil, domain.NotFound("subscription.lookup", "subscription", processorSubscriptionID)
		case errors.Is(err, payment.ErrUnavailable):
			return nil, domain.Unavailable(err, "subscription.lookup", "payment processor is unavailable")
		default:
			return nil, domain.WrapError(err, domain.EPAYMENT, "subscription.lookup", "processor rejected the lookup")
		}
	}
	return sub, nil
}

// Cancel cancels a tenant's subscription on the processor and locally.
func (s *SubscriptionService) Cancel(ctx context.Context, tenantID uuid.UUID, processor domain.Processor, processorSubscriptionID string) (*domain.Subscription, error) {
	client, err := s.client(processor)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Cancel(ctx, client, tenantID, processor, processorSubscriptionID)
}
