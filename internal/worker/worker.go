// Package worker drains the payment event queue and drives the
// reconciler, with bounded concurrency, backoff retries and a dead-letter
// store for events that never go through.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/queue"
	"github.com/ortegalabs/fieldkeep/internal/service"
	"github.com/ortegalabs/fieldkeep/internal/store"
	"github.com/ortegalabs/fieldkeep/internal/telemetry"
)

// Config tunes the reconciliation worker.
type Config struct {
	// Concurrency is the number of consumer goroutines. Events for the
	// same subscription are still serialized by the reconciler's lock.
	Concurrency int

	// MaxAttempts bounds retries per event before dead-lettering.
	MaxAttempts int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration

	// MaxBackoff caps the per-attempt delay.
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// Worker consumes canonical payment events and applies them.
type Worker struct {
	events      queue.EventQueue
	reconciler  *service.Reconciler
	deadLetters store.DeadLetterStore
	cfg         Config
	logger      *slog.Logger
}

func New(events queue.EventQueue, reconciler *service.Reconciler, deadLetters store.DeadLetterStore, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		events:      events,
		reconciler:  reconciler,
		deadLetters: deadLetters,
		cfg:         cfg.withDefaults(),
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			err := w.events.Consume(ctx, w.process)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// process reconciles one event, retrying transient failures with
// exponential backoff and dead-lettering after MaxAttempts. The returned
// error is always nil once the event has been dead-lettered, so queue
// implementations with redelivery do not double up on our own retries.
func (w *Worker) process(ctx context.Context, ev domain.CanonicalPaymentEvent) error {
	start := time.Now()
	firstSeen := start.UTC()

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		result, err := w.reconciler.Apply(ctx, ev)
		if err == nil {
			if telemetry.Payments != nil {
				telemetry.Payments.EventsApplied.WithLabelValues(string(ev.Processor), string(result)).Inc()
				telemetry.Payments.ReconcileLatency.WithLabelValues(string(ev.Processor)).Observe(time.Since(start).Seconds())
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// Shutting down; let redelivery-capable queues retry later.
			return ctx.Err()
		}

		w.logger.Warn("reconciliation attempt failed",
			slog.String("processor", string(ev.Processor)),
			slog.String("event_id", ev.RawEventID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if telemetry.Payments != nil {
			telemetry.Payments.ReconcileRetries.WithLabelValues(string(ev.Processor)).Inc()
		}

		if attempt < w.cfg.MaxAttempts {
			if err := w.sleep(ctx, w.backoff(attempt)); err != nil {
				return err
			}
		}
	}

	w.deadLetter(ctx, ev, firstSeen, lastErr)
	return nil
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BaseBackoff << (attempt - 1)
	if d > w.cfg.MaxBackoff {
		d = w.cfg.MaxBackoff
	}
	return d
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) deadLetter(ctx context.Context, ev domain.CanonicalPaymentEvent, firstSeen time.Time, lastErr error) {
	msg := "unknown"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	dl := &store.DeadLetter{
		ID:        uuid.New(),
		Event:     ev,
		Attempts:  w.cfg.MaxAttempts,
		LastError: msg,
		FirstSeen: firstSeen,
		DeadAt:    time.Now().UTC(),
	}
	if err := w.deadLetters.Add(ctx, dl); err != nil {
		w.logger.Error("failed to write dead letter",
			slog.String("event_id", ev.RawEventID),
			slog.String("error", err.Error()))
		return
	}
	if telemetry.Payments != nil {
		telemetry.Payments.EventsDeadLettered.WithLabelValues(string(ev.Processor)).Inc()
	}
	w.logger.Error("event dead-lettered after exhausting retries",
		slog.String("processor", string(ev.Processor)),
		slog.String("event_id", ev.RawEventID),
		slog.String("last_error", msg))
}
