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

// MemberCouponLockKey is the mutex key guarding the used flag of an issued coupon.
func MemberCouponLockKey(memberCouponID int64) string {
	return fmt.Sprintf("lock:member-coupon:%d", memberCouponID)
}

// CouponRedeemer marks issued coupons as used and credits the discount to the
// member's monthly benefit in the same transaction.
type CouponRedeemer struct {
	store    repository.Store
	locks    *lock.Executor
	benefits *BenefitAccumulator
	now      func() time.Time
	logger   *zap.Logger
}

// NewCouponRedeemer creates a redeemer that shares the accumulator's locking.
func NewCouponRedeemer(store repository.Store, locks *lock.Executor, benefits *BenefitAccumulator, opts ...Option) *CouponRedeemer {
	o := buildOptions(opts)
	return &CouponRedeemer{
		store:    store,
		locks:    locks,
		benefits: benefits,
		now:      o.now,
		logger:   o.logger.Named("redeemer"),
	}
}

// Use redeems memberCouponID for memberID.
//
// Locks are taken in a fixed order, issued coupon first and then the
// member's benefit month. If either is busy nothing is written.
func (r *CouponRedeemer) Use(ctx context.Context, memberCouponID, memberID int64) (UseResult, error) {
	now := r.now()
	period := model.PeriodOf(now)
	couponKey := MemberCouponLockKey(memberCouponID)
	benefitKey := BenefitLockKey(memberID, period)

	res, err := lock.Call(ctx, r.locks, couponKey, func(ctx context.Context) (UseResult, error) {
		return lock.Call(ctx, r.locks, benefitKey, func(ctx context.Context) (UseResult, error) {
			out, conflicted, err := retryOnConflict(ctx, r.logger, couponKey, func(ctx context.Context) (UseResult, error) {
				return r.useOnce(ctx, memberCouponID, memberID, period, now)
			})
			if conflicted {
				return UseResult{Outcome: UsePersistenceConflict}, nil
			}
			return out, err
		})
	})
	if errors.Is(err, lock.ErrBusy) {
		return UseResult{Outcome: UseBusy}, nil
	}
	if err != nil {
		return UseResult{}, err
	}
	if res.Outcome == UseUsed {
		metrics.RecordBenefitAccumulation(AccumulateOK.String())
	}
	return res, nil
}

func (r *CouponRedeemer) useOnce(ctx context.Context, memberCouponID, memberID int64, period model.Period, now time.Time) (UseResult, error) {
	var res UseResult
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		mc, err := tx.GetMemberCoupon(ctx, memberCouponID)
		if err != nil {
			return notFound(err, ErrMemberCouponNotFound, memberCouponID)
		}
		if mc.MemberID != memberID {
			return fmt.Errorf("%w: %d", ErrMemberCouponNotFound, memberCouponID)
		}
		if !mc.Usable(now) {
			res = UseResult{Outcome: UseNotUsable, MemberCoupon: mc}
			return nil
		}

		coupon, err := tx.GetCoupon(ctx, mc.CouponID)
		if err != nil {
			return notFound(err, ErrCouponNotFound, mc.CouponID)
		}

		mc.Used = true
		mc.UsedAt = &now
		if err := tx.MarkMemberCouponUsed(ctx, mc); err != nil {
			return err
		}
		benefit, err := r.benefits.add(ctx, tx, memberID, period, coupon.DiscountAmount, now)
		if err != nil {
			return err
		}
		res = UseResult{Outcome: UseUsed, MemberCoupon: mc, Benefit: benefit}
		return nil
	})
	if err != nil {
		return UseResult{}, err
	}
	return res, nil
}
