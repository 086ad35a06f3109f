package api

import (
	"time"

	"github.com/kkkkikiki/couponguard/internal/model"
)

// CreateCouponRequest defines a new limited coupon.
type CreateCouponRequest struct {
	Name              string    `json:"name"`
	DiscountAmount    int64     `json:"discount_amount"`
	MinimumOrderPrice int64     `json:"minimum_order_price"`
	IssueLimit        *int64    `json:"issue_limit,omitempty"`
	IssueStartedAt    time.Time `json:"issue_started_at"`
	IssueEndedAt      time.Time `json:"issue_ended_at"`
	UseEndedAt        time.Time `json:"use_ended_at"`
}

type CreateCouponResponse struct {
	Coupon *model.Coupon `json:"coupon"`
}

type GetCouponRequest struct {
	CouponID int64 `json:"coupon_id"`
}

type GetCouponResponse struct {
	Coupon *model.Coupon `json:"coupon"`
}

type IssueCouponRequest struct {
	CouponID int64 `json:"coupon_id"`
	MemberID int64 `json:"member_id"`
}

type IssueCouponResponse struct {
	MemberCoupon *model.MemberCoupon `json:"member_coupon"`
	// Remaining is -1 for coupons without an issue limit.
	Remaining int64 `json:"remaining"`
}

type ListIssuableCouponsRequest struct{}

type ListIssuableCouponsResponse struct {
	Coupons []model.Coupon `json:"coupons"`
}

type ListMemberCouponsRequest struct {
	MemberID int64 `json:"member_id"`
}

type ListMemberCouponsResponse struct {
	MemberCoupons []model.MemberCoupon `json:"member_coupons"`
}

type UseMemberCouponRequest struct {
	MemberCouponID int64 `json:"member_coupon_id"`
	MemberID       int64 `json:"member_id"`
}

type UseMemberCouponResponse struct {
	MemberCoupon *model.MemberCoupon   `json:"member_coupon"`
	Benefit      *model.MonthlyBenefit `json:"benefit"`
}

type AccumulateBenefitRequest struct {
	MemberID int64 `json:"member_id"`
	Year     int   `json:"year"`
	Month    int   `json:"month"`
	Amount   int64 `json:"amount"`
}

type AccumulateBenefitResponse struct {
	Benefit *model.MonthlyBenefit `json:"benefit"`
}

type GetMonthlyBenefitRequest struct {
	MemberID int64 `json:"member_id"`
	Year     int   `json:"year"`
	Month    int   `json:"month"`
}

type GetMonthlyBenefitResponse struct {
	Benefit *model.MonthlyBenefit `json:"benefit"`
}

type GetCouponUsageRequest struct {
	CouponID int64 `json:"coupon_id"`
}

type GetCouponUsageResponse struct {
	CouponID    int64 `json:"coupon_id"`
	IssuedCount int64 `json:"issued_count"`
	UsedCount   int64 `json:"used_count"`
}

type GetTopBenefitMemberRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// GetTopBenefitMemberResponse carries the member with the largest
// accumulated coupon discount in the requested month.
type GetTopBenefitMemberResponse struct {
	Benefit *model.MonthlyBenefit `json:"benefit"`
}
