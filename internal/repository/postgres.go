package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kkkkikiki/couponguard/internal/model"
)

// PostgresStore implements Store on PostgreSQL through sqlx.
type PostgresStore struct {
	db          *sqlx.DB
	couponRepo  *CouponRepository
	memberRepo  *MemberCouponRepository
	benefitRepo *BenefitRepository
}

// NewPostgresStore creates a store over an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:          db,
		couponRepo:  NewCouponRepository(),
		memberRepo:  NewMemberCouponRepository(),
		benefitRepo: NewBenefitRepository(),
	}
}

// WithinTx runs fn inside a database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateCoupon(ctx context.Context, c *model.Coupon) error {
	return s.couponRepo.CreateCoupon(ctx, s.db, c)
}

func (s *PostgresStore) GetCoupon(ctx context.Context, id int64) (*model.Coupon, error) {
	return s.couponRepo.GetCoupon(ctx, s.db, id)
}

func (s *PostgresStore) ListIssuableCoupons(ctx context.Context, now time.Time) ([]model.Coupon, error) {
	return s.couponRepo.ListIssuableCoupons(ctx, s.db, now)
}

func (s *PostgresStore) ListMemberCoupons(ctx context.Context, memberID int64) ([]model.MemberCoupon, error) {
	return s.memberRepo.ListByMember(ctx, s.db, memberID)
}

func (s *PostgresStore) CountUsedMemberCoupons(ctx context.Context, couponID int64) (int64, error) {
	return s.memberRepo.CountUsedByCoupon(ctx, s.db, couponID)
}

func (s *PostgresStore) TopMonthlyBenefit(ctx context.Context, period model.Period) (*model.MonthlyBenefit, error) {
	return s.benefitRepo.TopByPeriod(ctx, s.db, period)
}

func (s *PostgresStore) GetMonthlyBenefit(ctx context.Context, memberID int64, period model.Period) (*model.MonthlyBenefit, error) {
	return s.benefitRepo.FindMonthlyBenefit(ctx, s.db, memberID, period)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// pgTx binds the repositories to one *sqlx.Tx.
type pgTx struct {
	tx    *sqlx.Tx
	store *PostgresStore
}

func (t *pgTx) GetCoupon(ctx context.Context, id int64) (*model.Coupon, error) {
	return t.store.couponRepo.GetCoupon(ctx, t.tx, id)
}

func (t *pgTx) UpdateCouponIssue(ctx context.Context, c *model.Coupon) error {
	return t.store.couponRepo.UpdateIssueState(ctx, t.tx, c)
}

func (t *pgTx) CreateMemberCoupon(ctx context.Context, mc *model.MemberCoupon) error {
	return t.store.memberRepo.CreateMemberCoupon(ctx, t.tx, mc)
}

func (t *pgTx) GetMemberCoupon(ctx context.Context, id int64) (*model.MemberCoupon, error) {
	return t.store.memberRepo.GetMemberCoupon(ctx, t.tx, id)
}

func (t *pgTx) MarkMemberCouponUsed(ctx context.Context, mc *model.MemberCoupon) error {
	return t.store.memberRepo.MarkUsed(ctx, t.tx, mc)
}

func (t *pgTx) FindMonthlyBenefit(ctx context.Context, memberID int64, period model.Period) (*model.MonthlyBenefit, error) {
	return t.store.benefitRepo.FindMonthlyBenefit(ctx, t.tx, memberID, period)
}

func (t *pgTx) CreateMonthlyBenefit(ctx context.Context, b *model.MonthlyBenefit) error {
	return t.store.benefitRepo.CreateMonthlyBenefit(ctx, t.tx, b)
}

func (t *pgTx) UpdateMonthlyBenefit(ctx context.Context, b *model.MonthlyBenefit) error {
	return t.store.benefitRepo.UpdateMonthlyBenefit(ctx, t.tx, b)
}
