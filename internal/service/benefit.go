package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/couponguard/internal/lock"
	"github.com/kkkkikiki/couponguard/internal/metrics"
	"github.com/kkkkikiki/couponguard/internal/model"
	"github.com/kkkkikiki/couponguard/internal/repository"
)

// BenefitLockKey is the mutex key guarding one member's benefit for one month.
func BenefitLockKey(memberID int64, period model.Period) string {
	return fmt.Sprintf("lock:benefit:%d:%s", memberID, period)
}

// BenefitAccumulator adds coupon discounts to per-member monthly totals.
type BenefitAccumulator struct {
	store  repository.Store
	locks  *lock.Executor
	now    func() time.Time
	logger *zap.Logger
}

// NewBenefitAccumulator creates an accumulator that serializes updates per
// member and month.
func NewBenefitAccumulator(store repository.Store, locks *lock.Executor, opts ...Option) *BenefitAccumulator {
	o := buildOptions(opts)
	return &BenefitAccumulator{
		store:  store,
		locks:  locks,
		now:    o.now,
		logger: o.logger.Named("benefit"),
	}
}

// Accumulate adds amount to the member's total for period, creating the row
// on first use. Concurrent calls for the same pair never lose an update.
func (a *BenefitAccumulator) Accumulate(ctx context.Context, memberID int64, period model.Period, amount int64) (res AccumulateResult, err error) {
	if amount < 0 {
		return AccumulateResult{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if err := period.Validate(); err != nil {
		return AccumulateResult{}, err
	}
	defer func() {
		if err != nil {
			metrics.RecordBenefitAccumulation("error")
			return
		}
		metrics.RecordBenefitAccumulation(res.Outcome.String())
	}()

	key := BenefitLockKey(memberID, period)
	res, err = lock.Call(ctx, a.locks, key, func(ctx context.Context) (AccumulateResult, error) {
		benefit, conflicted, err := retryOnConflict(ctx, a.logger, key, func(ctx context.Context) (*model.MonthlyBenefit, error) {
			var benefit *model.MonthlyBenefit
			err := a.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
				var err error
				benefit, err = a.add(ctx, tx, memberID, period, amount, a.now())
				return err
			})
			return benefit, err
		})
		if conflicted {
			return AccumulateResult{Outcome: AccumulatePersistenceConflict}, nil
		}
		if err != nil {
			return AccumulateResult{}, err
		}
		return AccumulateResult{Outcome: AccumulateOK, Benefit: benefit}, nil
	})
	if errors.Is(err, lock.ErrBusy) {
		return AccumulateResult{Outcome: AccumulateBusy}, nil
	}
	if err != nil {
		return AccumulateResult{}, err
	}
	return res, nil
}

// add is the read-modify-write body. Callers must hold BenefitLockKey.
func (a *BenefitAccumulator) add(ctx context.Context, tx repository.Tx, memberID int64, period model.Period, amount int64, now time.Time) (*model.MonthlyBenefit, error) {
	benefit, err := tx.FindMonthlyBenefit(ctx, memberID, period)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		benefit = model.NewMonthlyBenefit(memberID, period, now)
		benefit.Increase(amount, now)
		if err := tx.CreateMonthlyBenefit(ctx, benefit); err != nil {
			return nil, err
		}
		return benefit, nil
	case err != nil:
		return nil, err
	}

	benefit.Increase(amount, now)
	if err := tx.UpdateMonthlyBenefit(ctx, benefit); err != nil {
		return nil, err
	}
	return benefit, nil
}
