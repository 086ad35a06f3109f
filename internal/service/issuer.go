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

// CouponLockKey is the mutex key guarding a coupon's issue count and status.
func CouponLockKey(couponID int64) string {
	return fmt.Sprintf("lock:coupon:%d", couponID)
}

// CouponIssuer grants limited coupons without exceeding their issue limit.
type CouponIssuer struct {
	store  repository.Store
	locks  *lock.Executor
	now    func() time.Time
	logger *zap.Logger
}

// NewCouponIssuer creates an issuer that serializes issuance per coupon.
func NewCouponIssuer(store repository.Store, locks *lock.Executor, opts ...Option) *CouponIssuer {
	o := buildOptions(opts)
	return &CouponIssuer{
		store:  store,
		locks:  locks,
		now:    o.now,
		logger: o.logger.Named("issuer"),
	}
}

// Issue grants one unit of couponID to memberID.
//
// The quota check and the increment happen in one critical section per
// coupon, so at most IssueLimit calls ever return IssueIssued. Different
// coupons never block each other. A held lock yields IssueBusy immediately.
// An unreachable lock backend returns an error wrapping lock.ErrUnavailable.
func (s *CouponIssuer) Issue(ctx context.Context, couponID, memberID int64) (res IssueResult, err error) {
	start := time.Now()
	defer func() {
		outcome := res.Outcome.String()
		if err != nil {
			outcome = "error"
		}
		metrics.RecordIssueCouponDuration(outcome, time.Since(start).Seconds())
	}()

	key := CouponLockKey(couponID)
	res, err = lock.Call(ctx, s.locks, key, func(ctx context.Context) (IssueResult, error) {
		out, conflicted, err := retryOnConflict(ctx, s.logger, key, func(ctx context.Context) (IssueResult, error) {
			return s.issueOnce(ctx, couponID, memberID)
		})
		if conflicted {
			return IssueResult{Outcome: IssuePersistenceConflict}, nil
		}
		return out, err
	})
	if errors.Is(err, lock.ErrBusy) {
		return IssueResult{Outcome: IssueBusy}, nil
	}
	if err != nil {
		return IssueResult{}, err
	}
	return res, nil
}

// issueOnce is the critical section. It reloads the coupon, decides, and
// commits before the lock is released.
func (s *CouponIssuer) issueOnce(ctx context.Context, couponID, memberID int64) (IssueResult, error) {
	var res IssueResult
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		coupon, err := tx.GetCoupon(ctx, couponID)
		if err != nil {
			return notFound(err, ErrCouponNotFound, couponID)
		}
		now := s.now()

		if coupon.Expired(now) {
			res = IssueResult{Outcome: IssueNotIssuable, Coupon: coupon}
			return s.transition(ctx, tx, coupon, model.CouponStatusExpired)
		}
		if !coupon.InIssueWindow(now) {
			res = IssueResult{Outcome: IssueNotIssuable, Coupon: coupon}
			return nil
		}
		if coupon.Status == model.CouponStatusSoldOut || coupon.LimitReached() {
			res = IssueResult{Outcome: IssueSoldOut, Coupon: coupon}
			return s.transition(ctx, tx, coupon, model.CouponStatusSoldOut)
		}

		coupon.IssueCount++
		if coupon.LimitReached() {
			coupon.Status = model.CouponStatusSoldOut
		}
		if err := tx.UpdateCouponIssue(ctx, coupon); err != nil {
			return err
		}

		grant := &model.MemberCoupon{
			MemberID:   memberID,
			CouponID:   couponID,
			IssuedAt:   now,
			UseEndedAt: coupon.UseEndedAt,
		}
		if err := tx.CreateMemberCoupon(ctx, grant); err != nil {
			return err
		}
		res = IssueResult{Outcome: IssueIssued, Grant: grant, Coupon: coupon}
		return nil
	})
	if err != nil {
		return IssueResult{}, err
	}

	if res.Outcome == IssueIssued && res.Coupon.Status == model.CouponStatusSoldOut {
		s.logger.Info("coupon sold out", zap.Int64("coupon_id", couponID), zap.Int64("issue_count", res.Coupon.IssueCount))
	}
	return res, nil
}

// transition persists a forward status change and ignores backward ones.
func (s *CouponIssuer) transition(ctx context.Context, tx repository.Tx, coupon *model.Coupon, next model.CouponStatus) error {
	if !coupon.Status.CanTransitionTo(next) {
		return nil
	}
	coupon.Status = next
	return tx.UpdateCouponIssue(ctx, coupon)
}
