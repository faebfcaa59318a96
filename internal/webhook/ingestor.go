// Package webhook verifies and normalizes processor notifications into
// canonical payment events. Verification and acknowledgment happen in the
// request foreground; reconciliation happens later, off the queue.
package webhook

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/queue"
	"github.com/ortegalabs/fieldkeep/internal/telemetry"
)

// Normalizer verifies and translates one processor's webhook payloads.
type Normalizer interface {
	// Verify authenticates the payload. A nil return means the payload
	// provably came from the processor (or verification is explicitly
	// disabled for legacy unsigned deliveries).
	Verify(payload []byte, header http.Header) error

	// Normalize maps the payload to a canonical event. Notifications the
	// engine does not understand come back as EventUnknown so they are
	// still recorded downstream.
	Normalize(payload []byte) (domain.CanonicalPaymentEvent, error)
}

// Ingestor is the entry point for all processor webhooks.
type Ingestor struct {
	normalizers map[domain.Processor]Normalizer
	events      queue.EventQueue
	logger      *slog.Logger
}

func NewIngestor(normalizers map[domain.Processor]Normalizer, events queue.EventQueue, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{normalizers: normalizers, events: events, logger: logger}
}

// Ingest runs phase one of webhook handling: verify, normalize, enqueue.
// The returned error is non-nil only for payloads the processor should
// retry or fix (unknown processor, failed verification, unparseable
// body); everything else is acked regardless of what reconciliation
// later does with it.
func (i *Ingestor) Ingest(ctx context.Context, processor domain.Processor, payload []byte, header http.Header) error {
	n, ok := i.normalizers[processor]
	if !ok {
		return domain.Invalid("webhook.ingest", "unsupported processor: "+string(processor))
	}

	if err := n.Verify(payload, header); err != nil {
		if telemetry.Payments != nil {
			telemetry.Payments.WebhookRejected.WithLabelValues(string(processor), "verification").Inc()
		}
		return domain.WrapError(err, domain.EUNAUTHORIZED, "webhook.ingest", "webhook verification failed")
	}

	ev, err := n.Normalize(payload)
	if err != nil {
		if telemetry.Payments != nil {
			telemetry.Payments.WebhookRejected.WithLabelValues(string(processor), "malformed").Inc()
		}
		return domain.WrapError(err, domain.EINVALID, "webhook.ingest", "malformed webhook payload")
	}

	if telemetry.Payments != nil {
		telemetry.Payments.WebhookReceived.WithLabelValues(string(processor), string(ev.Type)).Inc()
	}

	if err := i.events.Publish(ctx, ev); err != nil {
		// The processor was already satisfied by verification; do not
		// bounce the delivery. The processor's own redelivery covers a
		// momentarily full queue.
		if telemetry.Payments != nil {
			telemetry.Payments.WebhookDropped.WithLabelValues(string(processor)).Inc()
		}
		i.logger.Error("failed to enqueue webhook event",
			slog.String("processor", string(processor)),
			slog.String("event_id", ev.RawEventID),
			slog.String("error", err.Error()))
		return nil
	}

	i.logger.Info("webhook event enqueued",
		slog.String("processor", string(processor)),
		slog.String("event_id", ev.RawEventID),
		slog.String("event_type", string(ev.Type)))
	return nil
}
