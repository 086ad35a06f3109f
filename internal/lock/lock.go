// Package lock provides named, non-reentrant try-locks shared across process
// instances, and an executor that runs work while holding one.
//
// Acquisition is a single attempt: it never waits or queues. A key held by
// someone else, including a holder whose lease has not been cleared yet, is
// reported as busy.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusy means the mutex for the key is held elsewhere and the protected
	// work was not run.
	ErrBusy = errors.New("lock: busy")

	// ErrUnavailable means the coordination backend could not be reached.
	ErrUnavailable = errors.New("lock: coordination backend unavailable")
)

// DefaultTTL bounds how long a crashed holder can stall a key.
const DefaultTTL = 5 * time.Second

// Token identifies one successful acquisition.
type Token string

// Provider obtains and releases named mutexes.
type Provider interface {
	// TryAcquire makes one non-blocking attempt. ok is false when the key is
	// held. err wraps ErrUnavailable when the backend cannot be reached.
	TryAcquire(ctx context.Context, key string) (token Token, ok bool, err error)

	// Release frees key if token still owns it. It is a no-op otherwise.
	Release(ctx context.Context, key string, token Token) error
}
