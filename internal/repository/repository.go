package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kkkkikiki/couponguard/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write lost an optimistic version check or
	// hit a uniqueness constraint because of a concurrent writer.
	ErrConflict = errors.New("conflict")
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Tx is the set of reads and writes a critical section performs. All writes
// made through one Tx become visible together when WithinTx returns nil.
type Tx interface {
	GetCoupon(ctx context.Context, id int64) (*model.Coupon, error)
	// UpdateCouponIssue persists IssueCount and Status if the stored version
	// still equals c.Version, then bumps c.Version.
	UpdateCouponIssue(ctx context.Context, c *model.Coupon) error

	CreateMemberCoupon(ctx context.Context, mc *model.MemberCoupon) error
	GetMemberCoupon(ctx context.Context, id int64) (*model.MemberCoupon, error)
	// MarkMemberCouponUsed sets Used/UsedAt if the coupon is still unused.
	MarkMemberCouponUsed(ctx context.Context, mc *model.MemberCoupon) error

	FindMonthlyBenefit(ctx context.Context, memberID int64, period model.Period) (*model.MonthlyBenefit, error)
	CreateMonthlyBenefit(ctx context.Context, b *model.MonthlyBenefit) error
	// UpdateMonthlyBenefit persists the amount if the stored version still
	// equals b.Version, then bumps b.Version.
	UpdateMonthlyBenefit(ctx context.Context, b *model.MonthlyBenefit) error
}

// Store is the persistent store behind the coupon and benefit services.
type Store interface {
	// WithinTx runs fn in a transaction, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateCoupon(ctx context.Context, c *model.Coupon) error
	GetCoupon(ctx context.Context, id int64) (*model.Coupon, error)
	ListIssuableCoupons(ctx context.Context, now time.Time) ([]model.Coupon, error)
	ListMemberCoupons(ctx context.Context, memberID int64) ([]model.MemberCoupon, error)
	CountUsedMemberCoupons(ctx context.Context, couponID int64) (int64, error)
	GetMonthlyBenefit(ctx context.Context, memberID int64, period model.Period) (*model.MonthlyBenefit, error)
	// TopMonthlyBenefit returns ErrNotFound when nobody accumulated in period.
	TopMonthlyBenefit(ctx context.Context, period model.Period) (*model.MonthlyBenefit, error)
	Ping(ctx context.Context) error
}
