package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kkkkikiki/couponguard/internal/model"
	"github.com/kkkkikiki/couponguard/internal/repository"
)

var (
	// ErrCouponNotFound is returned when the coupon definition does not exist.
	ErrCouponNotFound = errors.New("coupon not found")

	// ErrMemberCouponNotFound is returned when the issued coupon does not exist
	// or belongs to another member.
	ErrMemberCouponNotFound = errors.New("member coupon not found")

	// ErrInvalidAmount is returned for a negative benefit amount.
	ErrInvalidAmount = errors.New("amount must not be negative")

	// ErrInvalidPeriod is returned for a malformed year/month.
	ErrInvalidPeriod = model.ErrInvalidPeriod
)

// IssueOutcome is the result of one issuance attempt.
type IssueOutcome int

const (
	IssueIssued IssueOutcome = iota + 1
	IssueSoldOut
	IssueNotIssuable
	// IssueBusy means another caller held the coupon's lock. Try again later.
	IssueBusy
	// IssuePersistenceConflict means the store rejected the write twice.
	IssuePersistenceConflict
)

func (o IssueOutcome) String() string {
	switch o {
	case IssueIssued:
		return "issued"
	case IssueSoldOut:
		return "sold_out"
	case IssueNotIssuable:
		return "not_issuable"
	case IssueBusy:
		return "busy"
	case IssuePersistenceConflict:
		return "conflict"
	}
	return "unknown"
}

// IssueResult carries the outcome and, when issued, the new grant.
type IssueResult struct {
	Outcome IssueOutcome
	Grant   *model.MemberCoupon
	Coupon  *model.Coupon
}

// AccumulateOutcome is the result of one benefit accumulation.
type AccumulateOutcome int

const (
	AccumulateOK AccumulateOutcome = iota + 1
	AccumulateBusy
	AccumulatePersistenceConflict
)

func (o AccumulateOutcome) String() string {
	switch o {
	case AccumulateOK:
		return "ok"
	case AccumulateBusy:
		return "busy"
	case AccumulatePersistenceConflict:
		return "conflict"
	}
	return "unknown"
}

// AccumulateResult carries the outcome and, when ok, the updated row.
type AccumulateResult struct {
	Outcome AccumulateOutcome
	Benefit *model.MonthlyBenefit
}

// UseOutcome is the result of redeeming an issued coupon.
type UseOutcome int

const (
	UseUsed UseOutcome = iota + 1
	// UseNotUsable means the coupon was already used or its use window ended.
	UseNotUsable
	UseBusy
	UsePersistenceConflict
)

func (o UseOutcome) String() string {
	switch o {
	case UseUsed:
		return "used"
	case UseNotUsable:
		return "not_usable"
	case UseBusy:
		return "busy"
	case UsePersistenceConflict:
		return "conflict"
	}
	return "unknown"
}

// UseResult carries the redeemed coupon and the member's updated benefit.
type UseResult struct {
	Outcome      UseOutcome
	MemberCoupon *model.MemberCoupon
	Benefit      *model.MonthlyBenefit
}

// Option configures the services.
type Option func(*options)

type options struct {
	now    func() time.Time
	logger *zap.Logger
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// maxAttempts bounds how often a critical section runs after a store conflict.
const maxAttempts = 2

// retryOnConflict runs fn again once if the store reports a version conflict.
// conflicted is true when the final attempt still conflicted.
func retryOnConflict[T any](ctx context.Context, logger *zap.Logger, key string, fn func(ctx context.Context) (T, error)) (out T, conflicted bool, err error) {
	for attempt := 1; ; attempt++ {
		out, err = fn(ctx)
		if !errors.Is(err, repository.ErrConflict) {
			return out, false, err
		}
		if attempt >= maxAttempts {
			logger.Warn("persistence conflict inside critical section",
				zap.String("key", key), zap.Int("attempts", attempt), zap.Error(err))
			var zero T
			return zero, true, nil
		}
		logger.Info("retrying critical section after conflict", zap.String("key", key), zap.Error(err))
	}
}

func notFound(err error, target error, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %d", target, id)
	}
	return err
}
