package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponguard/internal/api"
	"github.com/kkkkikiki/couponguard/internal/lock"
	"github.com/kkkkikiki/couponguard/internal/model"
	"github.com/kkkkikiki/couponguard/internal/repository"
)

var (
	errBusy     = errors.New("resource is busy, try again later")
	errConflict = errors.New("concurrent update detected, request was not applied")
)

// CouponServer implements the coupon service
type CouponServer struct {
	store    repository.Store
	issuer   *CouponIssuer
	benefits *BenefitAccumulator
	redeemer *CouponRedeemer
	now      func() time.Time
	logger   *zap.Logger
}

var _ api.CouponServiceHandler = (*CouponServer)(nil)

// NewCouponServer creates a new CouponServer instance
func NewCouponServer(store repository.Store, locks *lock.Executor, opts ...Option) *CouponServer {
	o := buildOptions(opts)
	benefits := NewBenefitAccumulator(store, locks, opts...)
	return &CouponServer{
		store:    store,
		issuer:   NewCouponIssuer(store, locks, opts...),
		benefits: benefits,
		redeemer: NewCouponRedeemer(store, locks, benefits, opts...),
		now:      o.now,
		logger:   o.logger.Named("server"),
	}
}

// CreateCoupon creates a new coupon definition
func (s *CouponServer) CreateCoupon(
	ctx context.Context,
	req *connect.Request[api.CreateCouponRequest],
) (*connect.Response[api.CreateCouponResponse], error) {
	msg := req.Msg
	if msg.IssueLimit != nil && *msg.IssueLimit < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("issue_limit must not be negative"))
	}
	if !msg.IssueEndedAt.After(msg.IssueStartedAt) {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("issue_ended_at must be after issue_started_at"))
	}
	useEndedAt := msg.UseEndedAt
	if useEndedAt.IsZero() {
		useEndedAt = msg.IssueEndedAt
	}

	coupon := &model.Coupon{
		Name:              msg.Name,
		DiscountAmount:    msg.DiscountAmount,
		MinimumOrderPrice: msg.MinimumOrderPrice,
		IssueLimit:        msg.IssueLimit,
		IssueStartedAt:    msg.IssueStartedAt,
		IssueEndedAt:      msg.IssueEndedAt,
		UseEndedAt:        useEndedAt,
		Status:            model.CouponStatusIssuable,
	}
	if err := s.store.CreateCoupon(ctx, coupon); err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("failed to create coupon: %w", err))
	}

	return connect.NewResponse(&api.CreateCouponResponse{Coupon: coupon}), nil
}

// GetCoupon returns the coupon including its current issue count and status
func (s *CouponServer) GetCoupon(
	ctx context.Context,
	req *connect.Request[api.GetCouponRequest],
) (*connect.Response[api.GetCouponResponse], error) {
	coupon, err := s.store.GetCoupon(ctx, req.Msg.CouponID)
	if err != nil {
		return nil, toConnectError(notFound(err, ErrCouponNotFound, req.Msg.CouponID))
	}
	return connect.NewResponse(&api.GetCouponResponse{Coupon: coupon}), nil
}

// IssueCoupon issues one coupon to a member
func (s *CouponServer) IssueCoupon(
	ctx context.Context,
	req *connect.Request[api.IssueCouponRequest],
) (*connect.Response[api.IssueCouponResponse], error) {
	res, err := s.issuer.Issue(ctx, req.Msg.CouponID, req.Msg.MemberID)
	if err != nil {
		s.logFailure("issue coupon failed", err,
			zap.Int64("coupon_id", req.Msg.CouponID), zap.Int64("member_id", req.Msg.MemberID))
		return nil, toConnectError(err)
	}

	switch res.Outcome {
	case IssueIssued:
		return connect.NewResponse(&api.IssueCouponResponse{
			MemberCoupon: res.Grant,
			Remaining:    res.Coupon.Remaining(),
		}), nil
	case IssueSoldOut:
		return nil, connect.NewError(connect.CodeResourceExhausted, fmt.Errorf("no more coupons available"))
	case IssueNotIssuable:
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("coupon is not issuable now"))
	case IssueBusy:
		return nil, connect.NewError(connect.CodeUnavailable, errBusy)
	default:
		return nil, connect.NewError(connect.CodeAborted, errConflict)
	}
}

// ListIssuableCoupons lists coupons that can be issued right now
func (s *CouponServer) ListIssuableCoupons(
	ctx context.Context,
	_ *connect.Request[api.ListIssuableCouponsRequest],
) (*connect.Response[api.ListIssuableCouponsResponse], error) {
	coupons, err := s.store.ListIssuableCoupons(ctx, s.now())
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.ListIssuableCouponsResponse{Coupons: coupons}), nil
}

// ListMemberCoupons lists every coupon issued to a member
func (s *CouponServer) ListMemberCoupons(
	ctx context.Context,
	req *connect.Request[api.ListMemberCouponsRequest],
) (*connect.Response[api.ListMemberCouponsResponse], error) {
	coupons, err := s.store.ListMemberCoupons(ctx, req.Msg.MemberID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.ListMemberCouponsResponse{MemberCoupons: coupons}), nil
}

// UseMemberCoupon redeems an issued coupon and credits its discount
func (s *CouponServer) UseMemberCoupon(
	ctx context.Context,
	req *connect.Request[api.UseMemberCouponRequest],
) (*connect.Response[api.UseMemberCouponResponse], error) {
	res, err := s.redeemer.Use(ctx, req.Msg.MemberCouponID, req.Msg.MemberID)
	if err != nil {
		s.logFailure("use member coupon failed", err,
			zap.Int64("member_coupon_id", req.Msg.MemberCouponID), zap.Int64("member_id", req.Msg.MemberID))
		return nil, toConnectError(err)
	}

	switch res.Outcome {
	case UseUsed:
		return connect.NewResponse(&api.UseMemberCouponResponse{
			MemberCoupon: res.MemberCoupon,
			Benefit:      res.Benefit,
		}), nil
	case UseNotUsable:
		return nil, connect.NewError(connect.CodeFailedPrecondition, fmt.Errorf("coupon already used or expired"))
	case UseBusy:
		return nil, connect.NewError(connect.CodeUnavailable, errBusy)
	default:
		return nil, connect.NewError(connect.CodeAborted, errConflict)
	}
}

// AccumulateBenefit adds an amount to a member's monthly benefit
func (s *CouponServer) AccumulateBenefit(
	ctx context.Context,
	req *connect.Request[api.AccumulateBenefitRequest],
) (*connect.Response[api.AccumulateBenefitResponse], error) {
	period := model.Period{Year: req.Msg.Year, Month: time.Month(req.Msg.Month)}
	res, err := s.benefits.Accumulate(ctx, req.Msg.MemberID, period, req.Msg.Amount)
	if err != nil {
		s.logFailure("accumulate benefit failed", err,
			zap.Int64("member_id", req.Msg.MemberID), zap.Stringer("period", period))
		return nil, toConnectError(err)
	}

	switch res.Outcome {
	case AccumulateOK:
		return connect.NewResponse(&api.AccumulateBenefitResponse{Benefit: res.Benefit}), nil
	case AccumulateBusy:
		return nil, connect.NewError(connect.CodeUnavailable, errBusy)
	default:
		return nil, connect.NewError(connect.CodeAborted, errConflict)
	}
}

// GetMonthlyBenefit returns a member's benefit for one month
func (s *CouponServer) GetMonthlyBenefit(
	ctx context.Context,
	req *connect.Request[api.GetMonthlyBenefitRequest],
) (*connect.Response[api.GetMonthlyBenefitResponse], error) {
	period := model.Period{Year: req.Msg.Year, Month: time.Month(req.Msg.Month)}
	if err := period.Validate(); err != nil {
		return nil, toConnectError(err)
	}
	benefit, err := s.store.GetMonthlyBenefit(ctx, req.Msg.MemberID, period)
	if errors.Is(err, repository.ErrNotFound) {
		// no accumulation yet reads as an empty month
		benefit = &model.MonthlyBenefit{MemberID: req.Msg.MemberID, Year: period.Year, Month: period.Month}
	} else if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.GetMonthlyBenefitResponse{Benefit: benefit}), nil
}

// GetCouponUsage reports how many grants of a coupon were issued and redeemed
func (s *CouponServer) GetCouponUsage(
	ctx context.Context,
	req *connect.Request[api.GetCouponUsageRequest],
) (*connect.Response[api.GetCouponUsageResponse], error) {
	coupon, err := s.store.GetCoupon(ctx, req.Msg.CouponID)
	if err != nil {
		return nil, toConnectError(notFound(err, ErrCouponNotFound, req.Msg.CouponID))
	}
	used, err := s.store.CountUsedMemberCoupons(ctx, coupon.ID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.GetCouponUsageResponse{
		CouponID:    coupon.ID,
		IssuedCount: coupon.IssueCount,
		UsedCount:   used,
	}), nil
}

// GetTopBenefitMember returns the member who saved the most with coupons in
// one month
func (s *CouponServer) GetTopBenefitMember(
	ctx context.Context,
	req *connect.Request[api.GetTopBenefitMemberRequest],
) (*connect.Response[api.GetTopBenefitMemberResponse], error) {
	period := model.Period{Year: req.Msg.Year, Month: time.Month(req.Msg.Month)}
	if err := period.Validate(); err != nil {
		return nil, toConnectError(err)
	}
	benefit, err := s.store.TopMonthlyBenefit(ctx, period)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&api.GetTopBenefitMemberResponse{Benefit: benefit}), nil
}

// logFailure logs at error level unless the caller went away.
func (s *CouponServer) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info(msg, fields...)
		return
	}
	s.logger.Error(msg, fields...)
}

// toConnectError maps service and infrastructure errors to connect codes
func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrCouponNotFound), errors.Is(err, ErrMemberCouponNotFound),
		errors.Is(err, repository.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidPeriod):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, lock.ErrUnavailable):
		return connect.NewError(connect.CodeInternal, fmt.Errorf("coordination backend unavailable: %w", err))
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
