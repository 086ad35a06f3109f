package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kkkkikiki/couponguard/internal/model"
)

const couponColumns = `id, name, discount_amount, minimum_order_price, issue_limit, issue_count,
	issue_started_at, issue_ended_at, use_ended_at, coupon_status, version, created_at, modified_at`

// CouponRepository handles coupon data operations
type CouponRepository struct{}

// NewCouponRepository creates a new coupon repository
func NewCouponRepository() *CouponRepository {
	return &CouponRepository{}
}

// CreateCoupon creates a new coupon definition
func (r *CouponRepository) CreateCoupon(ctx context.Context, db DBExecutor, coupon *model.Coupon) error {
	query := `
		INSERT INTO coupons (name, discount_amount, minimum_order_price, issue_limit, issue_count,
			issue_started_at, issue_ended_at, use_ended_at, coupon_status, version, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	now := time.Now()
	coupon.CreatedAt = now
	coupon.ModifiedAt = now
	if coupon.Status == "" {
		coupon.Status = model.CouponStatusIssuable
	}

	err := db.GetContext(ctx, &coupon.ID, query,
		coupon.Name, coupon.DiscountAmount, coupon.MinimumOrderPrice, coupon.IssueLimit, coupon.IssueCount,
		coupon.IssueStartedAt, coupon.IssueEndedAt, coupon.UseEndedAt, coupon.Status, coupon.Version,
		coupon.CreatedAt, coupon.ModifiedAt)
	if err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}

	return nil
}

// GetCoupon retrieves a coupon by ID
func (r *CouponRepository) GetCoupon(ctx context.Context, db DBExecutor, id int64) (*model.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	var coupon model.Coupon
	err := db.GetContext(ctx, &coupon, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("coupon %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	return &coupon, nil
}

// UpdateIssueState writes issue_count and coupon_status guarded by the version column
func (r *CouponRepository) UpdateIssueState(ctx context.Context, db DBExecutor, coupon *model.Coupon) error {
	query := `
		UPDATE coupons
		SET issue_count = $1, coupon_status = $2, version = version + 1, modified_at = $3
		WHERE id = $4 AND version = $5
	`

	now := time.Now()
	result, err := db.ExecContext(ctx, query, coupon.IssueCount, coupon.Status, now, coupon.ID, coupon.Version)
	if err != nil {
		return fmt.Errorf("failed to update coupon issue state: %w", err)
	}

	// Check if any row was actually updated
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("coupon %d version %d: %w", coupon.ID, coupon.Version, ErrConflict)
	}

	coupon.Version++
	coupon.ModifiedAt = now
	return nil
}

// ListIssuableCoupons returns coupons whose issue window contains now
func (r *CouponRepository) ListIssuableCoupons(ctx context.Context, db DBExecutor, now time.Time) ([]model.Coupon, error) {
	query := `SELECT ` + couponColumns + `
		FROM coupons
		WHERE coupon_status = $1 AND issue_started_at <= $2 AND issue_ended_at >= $2
		ORDER BY issue_started_at ASC, id ASC
	`

	coupons := []model.Coupon{}
	if err := db.SelectContext(ctx, &coupons, query, model.CouponStatusIssuable, now); err != nil {
		return nil, fmt.Errorf("failed to list issuable coupons: %w", err)
	}

	return coupons, nil
}
