package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kkkkikiki/couponguard/internal/model"
)

const benefitColumns = `id, member_id, year, month, coupon_discount_amount, version, created_at, modified_at`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// BenefitRepository handles monthly member benefit rows
type BenefitRepository struct{}

// NewBenefitRepository creates a new benefit repository
func NewBenefitRepository() *BenefitRepository {
	return &BenefitRepository{}
}

// FindMonthlyBenefit retrieves the row for a member and period
func (r *BenefitRepository) FindMonthlyBenefit(ctx context.Context, db DBExecutor, memberID int64, period model.Period) (*model.MonthlyBenefit, error) {
	query := `SELECT ` + benefitColumns + `
		FROM monthly_member_benefits
		WHERE member_id = $1 AND year = $2 AND month = $3
	`

	var b model.MonthlyBenefit
	if err := db.GetContext(ctx, &b, query, memberID, period.Year, int(period.Month)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("benefit %d/%s: %w", memberID, period, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get monthly benefit: %w", err)
	}

	return &b, nil
}

// CreateMonthlyBenefit inserts a new row. A concurrent insert for the same
// member and period surfaces as ErrConflict.
func (r *BenefitRepository) CreateMonthlyBenefit(ctx context.Context, db DBExecutor, b *model.MonthlyBenefit) error {
	query := `
		INSERT INTO monthly_member_benefits (member_id, year, month, coupon_discount_amount, version, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := db.GetContext(ctx, &b.ID, query,
		b.MemberID, b.Year, int(b.Month), b.CouponDiscountAmount, b.Version, b.CreatedAt, b.ModifiedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("benefit %d/%s: %w", b.MemberID, b.Period(), ErrConflict)
		}
		return fmt.Errorf("failed to create monthly benefit: %w", err)
	}

	return nil
}

// UpdateMonthlyBenefit writes the accumulated amount guarded by the version column
func (r *BenefitRepository) UpdateMonthlyBenefit(ctx context.Context, db DBExecutor, b *model.MonthlyBenefit) error {
	query := `
		UPDATE monthly_member_benefits
		SET coupon_discount_amount = $1, modified_at = $2, version = version + 1
		WHERE id = $3 AND version = $4
	`

	result, err := db.ExecContext(ctx, query, b.CouponDiscountAmount, b.ModifiedAt, b.ID, b.Version)
	if err != nil {
		return fmt.Errorf("failed to update monthly benefit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("benefit %d version %d: %w", b.ID, b.Version, ErrConflict)
	}

	b.Version++
	return nil
}

// TopByPeriod returns the row with the largest accumulated discount in a
// period. Ties go to the earliest row.
func (r *BenefitRepository) TopByPeriod(ctx context.Context, db DBExecutor, period model.Period) (*model.MonthlyBenefit, error) {
	query := `SELECT ` + benefitColumns + `
		FROM monthly_member_benefits
		WHERE year = $1 AND month = $2
		ORDER BY coupon_discount_amount DESC, id ASC
		LIMIT 1
	`

	var b model.MonthlyBenefit
	if err := db.GetContext(ctx, &b, query, period.Year, int(period.Month)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("benefits in %s: %w", period, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get top monthly benefit: %w", err)
	}

	return &b, nil
}
