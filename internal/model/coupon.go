package model

import (
	"time"
)

// CouponStatus is the lifecycle state of a coupon definition.
// Transitions only move forward: ISSUABLE -> SOLD_OUT -> EXPIRED.
type CouponStatus string

const (
	CouponStatusIssuable CouponStatus = "ISSUABLE"
	CouponStatusSoldOut  CouponStatus = "SOLD_OUT"
	CouponStatusExpired  CouponStatus = "EXPIRED"
)

func (s CouponStatus) rank() int {
	switch s {
	case CouponStatusIssuable:
		return 0
	case CouponStatusSoldOut:
		return 1
	case CouponStatusExpired:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
func (s CouponStatus) CanTransitionTo(next CouponStatus) bool {
	return next.rank() > s.rank()
}

// Coupon represents a limited coupon definition in the database
type Coupon struct {
	ID                int64        `db:"id" json:"id"`
	Name              string       `db:"name" json:"name"`
	DiscountAmount    int64        `db:"discount_amount" json:"discount_amount"`
	MinimumOrderPrice int64        `db:"minimum_order_price" json:"minimum_order_price"`
	IssueLimit        *int64       `db:"issue_limit" json:"issue_limit,omitempty"` // nil means unbounded
	IssueCount        int64        `db:"issue_count" json:"issue_count"`
	IssueStartedAt    time.Time    `db:"issue_started_at" json:"issue_started_at"`
	IssueEndedAt      time.Time    `db:"issue_ended_at" json:"issue_ended_at"`
	UseEndedAt        time.Time    `db:"use_ended_at" json:"use_ended_at"`
	Status            CouponStatus `db:"coupon_status" json:"status"`
	Version           int64        `db:"version" json:"-"` // optimistic locking
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	ModifiedAt        time.Time    `db:"modified_at" json:"modified_at"`
}

// InIssueWindow reports whether now falls inside [IssueStartedAt, IssueEndedAt].
func (c *Coupon) InIssueWindow(now time.Time) bool {
	return !now.Before(c.IssueStartedAt) && !now.After(c.IssueEndedAt)
}

// Expired reports whether the issue window has passed or the coupon was already expired.
func (c *Coupon) Expired(now time.Time) bool {
	return c.Status == CouponStatusExpired || now.After(c.IssueEndedAt)
}

// LimitReached reports whether a bounded coupon has no quantity left.
func (c *Coupon) LimitReached() bool {
	return c.IssueLimit != nil && c.IssueCount >= *c.IssueLimit
}

// Remaining returns the quantity left, or -1 for unbounded coupons.
func (c *Coupon) Remaining() int64 {
	if c.IssueLimit == nil {
		return -1
	}
	if left := *c.IssueLimit - c.IssueCount; left > 0 {
		return left
	}
	return 0
}

// MemberCoupon represents a single coupon issued to a member
type MemberCoupon struct {
	ID         int64      `db:"id" json:"id"`
	MemberID   int64      `db:"member_id" json:"member_id"`
	CouponID   int64      `db:"coupon_id" json:"coupon_id"`
	IssuedAt   time.Time  `db:"issued_at" json:"issued_at"`
	UsedAt     *time.Time `db:"used_at" json:"used_at,omitempty"`
	UseEndedAt time.Time  `db:"use_ended_at" json:"use_ended_at"`
	Used       bool       `db:"used" json:"used"`
}

// Usable reports whether the coupon can still be redeemed at now.
func (mc *MemberCoupon) Usable(now time.Time) bool {
	return !mc.Used && !now.After(mc.UseEndedAt)
}
