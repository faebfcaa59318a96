package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// NATS is a JetStream-backed EventQueue for multi-node deployments.
// The stream uses work-queue retention and the NATS message ID header
// for broker-side deduplication; the reconciler's idempotency store
// remains the source of truth.
type NATS struct {
	js      nats.JetStreamContext
	stream  string
	subject string
	durable string
}

// NATSConfig configures the JetStream queue.
type NATSConfig struct {
	Stream  string // defaults to "PAYMENT_EVENTS"
	Subject string // defaults to "payments.events"
	Durable string // defaults to "payment-reconciler"
}

// NewNATS creates the queue and ensures its stream exists.
func NewNATS(nc *nats.Conn, cfg NATSConfig) (*NATS, error) {
	if cfg.Stream == "" {
		cfg.Stream = "PAYMENT_EVENTS"
	}
	if cfg.Subject == "" {
		cfg.Subject = "payments.events"
	}
	if cfg.Durable == "" {
		cfg.Durable = "payment-reconciler"
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream: %w", err)
		}
	}

	return &NATS{
		js:      js,
		stream:  cfg.Stream,
		subject: cfg.Subject,
		durable: cfg.Durable,
	}, nil
}

func (q *NATS) Publish(ctx context.Context, ev domain.CanonicalPaymentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msgID := string(ev.Processor) + ":" + ev.RawEventID
	_, err = q.js.Publish(q.subject, data, nats.MsgId(msgID), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (q *NATS) Consume(ctx context.Context, handler func(ctx context.Context, ev domain.CanonicalPaymentEvent) error) error {
	sub, err := q.js.PullSubscribe(q.subject, q.durable, nats.BindStream(q.stream))
	if err != nil {
		return fmt.Errorf("pull subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := sub.Fetch(16, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("fetch events: %w", err)
		}
		for _, msg := range msgs {
			var ev domain.CanonicalPaymentEvent
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				// Undecodable payload will never succeed; drop it.
				_ = msg.Term()
				continue
			}
			if err := handler(ctx, ev); err != nil {
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

func (q *NATS) Close() error {
	return nil
}
