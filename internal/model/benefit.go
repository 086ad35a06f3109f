package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPeriod is returned when a period has an out-of-range year or month.
var ErrInvalidPeriod = errors.New("invalid period")

// Period identifies a calendar month.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// PeriodOf returns the period containing t in t's location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// Validate checks that the period is a real calendar month.
func (p Period) Validate() error {
	if p.Year < 1 || p.Year > 9999 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	if p.Month < time.January || p.Month > time.December {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, p.Month)
	}
	return nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// MonthlyBenefit accumulates the coupon discount a member received in one month
type MonthlyBenefit struct {
	ID                   int64      `db:"id" json:"id"`
	MemberID             int64      `db:"member_id" json:"member_id"`
	Year                 int        `db:"year" json:"year"`
	Month                time.Month `db:"month" json:"month"`
	CouponDiscountAmount int64      `db:"coupon_discount_amount" json:"coupon_discount_amount"`
	Version              int64      `db:"version" json:"-"` // optimistic locking
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	ModifiedAt           time.Time  `db:"modified_at" json:"modified_at"`
}

// NewMonthlyBenefit returns an empty benefit row for the member and period.
func NewMonthlyBenefit(memberID int64, period Period, now time.Time) *MonthlyBenefit {
	return &MonthlyBenefit{
		MemberID:   memberID,
		Year:       period.Year,
		Month:      period.Month,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Period returns the calendar month the row belongs to.
func (b *MonthlyBenefit) Period() Period {
	return Period{Year: b.Year, Month: b.Month}
}

// Increase adds amount to the accumulated discount.
func (b *MonthlyBenefit) Increase(amount int64, now time.Time) {
	b.CouponDiscountAmount += amount
	b.ModifiedAt = now
}
