package service

import "errors"

// ErrLockTimeout is returned when a per-subscription lock cannot be
// acquired within the configured bound. Transient: the background worker
// retries with backoff.
var ErrLockTimeout = errors.New("service: lock acquisition timed out")
