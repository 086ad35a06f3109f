package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponguard/internal/lock"
	"github.com/kkkkikiki/couponguard/internal/model"
	"github.com/kkkkikiki/couponguard/internal/repository"
)

var testNow = time.Date(2024, 8, 5, 17, 2, 55, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}

func newExecutor() *lock.Executor {
	return lock.NewExecutor(lock.NewInMemory(time.Second), nil, 0)
}

// seedLimitedCoupon stores a coupon whose issue window contains testNow.
func seedLimitedCoupon(t *testing.T, store repository.Store, limit int64) *model.Coupon {
	t.Helper()
	c := &model.Coupon{
		Name:              "limited",
		DiscountAmount:    3500,
		MinimumOrderPrice: 10000,
		IssueStartedAt:    time.Date(2024, 7, 30, 0, 0, 0, 0, time.UTC),
		IssueEndedAt:      time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC),
		UseEndedAt:        time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC),
	}
	if limit >= 0 {
		c.IssueLimit = &limit
	}
	require.NoError(t, store.CreateCoupon(context.Background(), c))
	return c
}

// issueUntilDecided retries while the coupon lock is busy, the way a client
// would after an Unavailable response.
func issueUntilDecided(ctx context.Context, issuer *CouponIssuer, couponID, memberID int64) (IssueResult, error) {
	for {
		res, err := issuer.Issue(ctx, couponID, memberID)
		if err != nil || res.Outcome != IssueBusy {
			return res, err
		}
		time.Sleep(50 * time.Microsecond)
	}
}

func accumulateUntilDone(ctx context.Context, a *BenefitAccumulator, memberID int64, period model.Period, amount int64) (AccumulateResult, error) {
	for {
		res, err := a.Accumulate(ctx, memberID, period, amount)
		if err != nil || res.Outcome != AccumulateBusy {
			return res, err
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// conflictStore makes the next n transactions fail with a version conflict.
type conflictStore struct {
	*repository.MemoryStore

	mu        sync.Mutex
	conflicts int
	txCalls   int
}

func (s *conflictStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	s.txCalls++
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	s.mu.Unlock()

	if inject {
		return fmt.Errorf("injected: %w", repository.ErrConflict)
	}
	return s.MemoryStore.WithinTx(ctx, fn)
}

// busyProvider never grants a lock.
type busyProvider struct{}

func (busyProvider) TryAcquire(context.Context, string) (lock.Token, bool, error) {
	return "", false, nil
}

func (busyProvider) Release(context.Context, string, lock.Token) error { return nil }

// downProvider simulates an unreachable coordination backend.
type downProvider struct{}

func (downProvider) TryAcquire(_ context.Context, key string) (lock.Token, bool, error) {
	return "", false, fmt.Errorf("%w: dial redis: connection refused", lock.ErrUnavailable)
}

func (downProvider) Release(context.Context, string, lock.Token) error { return nil }

// countingStore records whether any transaction was opened.
type countingStore struct {
	*repository.MemoryStore

	mu      sync.Mutex
	txCalls int
}

func (s *countingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	s.txCalls++
	s.mu.Unlock()
	return s.MemoryStore.WithinTx(ctx, fn)
}
