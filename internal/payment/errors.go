package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnavailable is returned when a processor call times out or the
	// processor answers with a 5xx. Retryable by the caller.
	ErrUnavailable = errors.New("payment: processor unavailable")

	// ErrRejected is returned when the processor rejects the request with
	// a 4xx. Not retryable without changing the request.
	ErrRejected = errors.New("payment: processor rejected request")

	// ErrSubscriptionNotFound is returned when the processor has no
	// subscription for the given ID.
	ErrSubscriptionNotFound = errors.New("payment: subscription not found")

	// ErrUnknownProcessor is returned when a processor name falls outside
	// the supported set.
	ErrUnknownProcessor = errors.New("payment: unknown processor")
)

// ProcessorError wraps a processor API failure with enough context to
// classify it without string matching.
type ProcessorError struct {
	Processor  string
	Op         string // e.g. "checkout.create", "subscription.cancel"
	StatusCode int    // HTTP status from the processor, 0 for transport errors
	Message    string
	Err        error
}

func (e *ProcessorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: %s (status %d)", e.Processor, e.Op, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %s", e.Processor, e.Op, e.Message)
}

func (e *ProcessorError) Unwrap() error {
	// Classify into one of the two sentinels so callers can errors.Is.
	if e.Err != nil {
		return e.Err
	}
	return nil
}

// classify maps a processor HTTP outcome onto the retryable/non-retryable
// sentinels. Timeouts and 5xx are retryable; 4xx is a hard rejection.
func classify(processor, op string, statusCode int, message string, err error) error {
	pe := &ProcessorError{
		Processor:  processor,
		Op:         op,
		StatusCode: statusCode,
		Message:    message,
	}
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || isTimeout(err)):
		pe.Err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		pe.Err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	case statusCode >= 500:
		pe.Err = ErrUnavailable
	case statusCode == 404:
		pe.Err = ErrSubscriptionNotFound
	case statusCode >= 400:
		pe.Err = ErrRejected
	default:
		pe.Err = ErrUnavailable
	}
	return pe
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
