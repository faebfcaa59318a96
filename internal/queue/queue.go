// Package queue decouples webhook acknowledgment from reconciliation.
// The ingestor publishes canonical events; the reconciliation worker
// consumes them.
package queue

import (
	"context"
	"errors"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// ErrQueueFull is returned by Publish when the queue cannot accept the
// event right now. The webhook handler still acks the processor; the
// event will come back via redelivery.
var ErrQueueFull = errors.New("queue: full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("queue: closed")

// EventQueue carries canonical payment events from ingestion to
// reconciliation.
type EventQueue interface {
	// Publish enqueues an event. Non-blocking: returns ErrQueueFull
	// instead of waiting when the queue is at capacity.
	Publish(ctx context.Context, ev domain.CanonicalPaymentEvent) error

	// Consume delivers events to handler until ctx is cancelled. The
	// handler's error return decides redelivery for implementations that
	// support it; the in-memory queue treats handler completion as done.
	Consume(ctx context.Context, handler func(ctx context.Context, ev domain.CanonicalPaymentEvent) error) error

	Close() error
}

// Memory is a bounded in-process EventQueue for tests and single-node
// deployments.
type Memory struct {
	ch     chan domain.CanonicalPaymentEvent
	closed chan struct{}
}

// NewMemory creates a memory queue holding up to capacity events.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{
		ch:     make(chan domain.CanonicalPaymentEvent, capacity),
		closed: make(chan struct{}),
	}
}

func (q *Memory) Publish(ctx context.Context, ev domain.CanonicalPaymentEvent) error {
	select {
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Memory) Consume(ctx context.Context, handler func(ctx context.Context, ev domain.CanonicalPaymentEvent) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.closed:
			return ErrClosed
		case ev := <-q.ch:
			// Handler owns retries and dead-lettering; the memory queue
			// has no redelivery.
			_ = handler(ctx, ev)
		}
	}
}

func (q *Memory) Close() error {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
	return nil
}

// Len reports the number of buffered events, for tests and health checks.
func (q *Memory) Len() int {
	return len(q.ch)
}
