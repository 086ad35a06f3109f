package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/couponguard/internal/metrics"
)

// DefaultReleaseTimeout bounds a release issued after the caller's context ended.
const DefaultReleaseTimeout = 2 * time.Second

// Executor runs units of work while holding the mutex for a key.
// Work is never run when the mutex was not obtained.
type Executor struct {
	provider       Provider
	logger         *zap.Logger
	releaseTimeout time.Duration
}

// NewExecutor creates an executor over provider. A nil logger disables logging.
func NewExecutor(provider Provider, logger *zap.Logger, releaseTimeout time.Duration) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if releaseTimeout <= 0 {
		releaseTimeout = DefaultReleaseTimeout
	}
	return &Executor{
		provider:       provider,
		logger:         logger.Named("lock"),
		releaseTimeout: releaseTimeout,
	}
}

// Run executes action while holding key. It returns ErrBusy, without running
// action, when the key is held elsewhere.
func (e *Executor) Run(ctx context.Context, key string, action func(ctx context.Context) error) error {
	return e.withLock(ctx, key, action)
}

// Call executes fn while holding key and returns its result. It returns the
// zero value and ErrBusy, without running fn, when the key is held elsewhere.
func Call[T any](ctx context.Context, e *Executor, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.withLock(ctx, key, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (e *Executor) withLock(ctx context.Context, key string, body func(ctx context.Context) error) error {
	token, ok, err := e.provider.TryAcquire(ctx, key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// the caller gave up; the backend is not at fault
			metrics.RecordLockAttempt("canceled")
			e.logger.Debug("lock acquisition abandoned", zap.String("key", key), zap.Error(ctxErr))
			return fmt.Errorf("acquire %s: %w", key, ctxErr)
		}
		metrics.RecordLockAttempt("error")
		e.logger.Error("lock acquisition failed", zap.String("key", key), zap.Error(err))
		if !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	if !ok {
		metrics.RecordLockAttempt("busy")
		e.logger.Debug("could not acquire lock", zap.String("key", key))
		return ErrBusy
	}
	metrics.RecordLockAttempt("acquired")

	start := time.Now()
	defer e.release(ctx, key, token, start)
	return body(ctx)
}

// release runs on every exit path of the body, panics included, and is not
// cut short by cancellation of the caller's context.
func (e *Executor) release(ctx context.Context, key string, token Token, start time.Time) {
	metrics.RecordLockHold(time.Since(start).Seconds())

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.releaseTimeout)
	defer cancel()
	if err := e.provider.Release(rctx, key, token); err != nil {
		e.logger.Warn("lock release failed; lease will expire",
			zap.String("key", key), zap.Error(err))
		return
	}
	e.logger.Debug("lock released", zap.String("key", key))
}
