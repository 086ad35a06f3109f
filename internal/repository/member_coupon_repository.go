package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kkkkikiki/couponguard/internal/model"
)

const memberCouponColumns = `id, member_id, coupon_id, issued_at, used_at, use_ended_at, used`

// MemberCouponRepository handles issued coupon rows. Rows are append-only
// apart from the used flag.
type MemberCouponRepository struct{}

// NewMemberCouponRepository creates a new member coupon repository
func NewMemberCouponRepository() *MemberCouponRepository {
	return &MemberCouponRepository{}
}

// CreateMemberCoupon records one issuance
func (r *MemberCouponRepository) CreateMemberCoupon(ctx context.Context, db DBExecutor, mc *model.MemberCoupon) error {
	query := `
		INSERT INTO member_coupons (member_id, coupon_id, issued_at, used_at, use_ended_at, used)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := db.GetContext(ctx, &mc.ID, query,
		mc.MemberID, mc.CouponID, mc.IssuedAt, mc.UsedAt, mc.UseEndedAt, mc.Used)
	if err != nil {
		return fmt.Errorf("failed to create member coupon: %w", err)
	}

	return nil
}

// GetMemberCoupon retrieves an issued coupon by ID
func (r *MemberCouponRepository) GetMemberCoupon(ctx context.Context, db DBExecutor, id int64) (*model.MemberCoupon, error) {
	query := `SELECT ` + memberCouponColumns + ` FROM member_coupons WHERE id = $1`

	var mc model.MemberCoupon
	if err := db.GetContext(ctx, &mc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member coupon %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get member coupon: %w", err)
	}

	return &mc, nil
}

// MarkUsed flips used from false to true
func (r *MemberCouponRepository) MarkUsed(ctx context.Context, db DBExecutor, mc *model.MemberCoupon) error {
	query := `
		UPDATE member_coupons
		SET used = TRUE, used_at = $1
		WHERE id = $2 AND used = FALSE
	`

	result, err := db.ExecContext(ctx, query, mc.UsedAt, mc.ID)
	if err != nil {
		return fmt.Errorf("failed to mark member coupon as used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("member coupon %d already used: %w", mc.ID, ErrConflict)
	}

	return nil
}

// CountUsedByCoupon counts redeemed grants of one coupon
func (r *MemberCouponRepository) CountUsedByCoupon(ctx context.Context, db DBExecutor, couponID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM member_coupons WHERE coupon_id = $1 AND used = TRUE`

	var count int64
	if err := db.GetContext(ctx, &count, query, couponID); err != nil {
		return 0, fmt.Errorf("failed to count used member coupons: %w", err)
	}

	return count, nil
}

// ListByMember returns every coupon issued to a member, newest first
func (r *MemberCouponRepository) ListByMember(ctx context.Context, db DBExecutor, memberID int64) ([]model.MemberCoupon, error) {
	query := `SELECT ` + memberCouponColumns + `
		FROM member_coupons
		WHERE member_id = $1
		ORDER BY issued_at DESC, id DESC
	`

	coupons := []model.MemberCoupon{}
	if err := db.SelectContext(ctx, &coupons, query, memberID); err != nil {
		return nil, fmt.Errorf("failed to list member coupons: %w", err)
	}

	return coupons, nil
}
