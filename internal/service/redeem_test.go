package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kkkkikiki/couponguard/internal/lock"
	"github.com/kkkkikiki/couponguard/internal/metrics"
	"github.com/kkkkikiki/couponguard/internal/model"
	"github.com/kkkkikiki/couponguard/internal/repository"
)

type redeemFixture struct {
	store    *repository.MemoryStore
	provider *lock.InMemory
	issuer   *CouponIssuer
	benefits *BenefitAccumulator
	redeemer *CouponRedeemer
}

func newRedeemFixture(now func() time.Time) *redeemFixture {
	store := repository.NewMemoryStore()
	provider := lock.NewInMemory(time.Minute)
	locks := lock.NewExecutor(provider, nil, 0)
	benefits := NewBenefitAccumulator(store, locks, WithClock(now))
	return &redeemFixture{
		store:    store,
		provider: provider,
		issuer:   NewCouponIssuer(store, locks, WithClock(now)),
		benefits: benefits,
		redeemer: NewCouponRedeemer(store, locks, benefits, WithClock(now)),
	}
}

func (f *redeemFixture) grant(t *testing.T, memberID int64) *model.MemberCoupon {
	t.Helper()
	coupon := seedLimitedCoupon(t, f.store, 10)
	res, err := f.issuer.Issue(context.Background(), coupon.ID, memberID)
	require.NoError(t, err)
	require.Equal(t, IssueIssued, res.Outcome)
	return res.Grant
}

func TestUseCreditsDiscountToMonthlyBenefit(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	mc := f.grant(t, 1)

	res, err := f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	require.Equal(t, UseUsed, res.Outcome)
	assert.True(t, res.MemberCoupon.Used)
	require.NotNil(t, res.MemberCoupon.UsedAt)
	assert.Equal(t, testNow, *res.MemberCoupon.UsedAt)
	assert.Equal(t, int64(3500), res.Benefit.CouponDiscountAmount)

	got, err := f.store.GetMonthlyBenefit(ctx, 1, model.PeriodOf(testNow))
	require.NoError(t, err)
	assert.Equal(t, int64(3500), got.CouponDiscountAmount)
}

func TestUseAddsToExistingBenefit(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	_, err := f.benefits.Accumulate(ctx, 1, model.PeriodOf(testNow), 500)
	require.NoError(t, err)
	mc := f.grant(t, 1)

	res, err := f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	require.Equal(t, UseUsed, res.Outcome)
	assert.Equal(t, int64(4000), res.Benefit.CouponDiscountAmount)
}

func TestUseTwiceIsNotUsable(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	mc := f.grant(t, 1)

	_, err := f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)

	res, err := f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, UseNotUsable, res.Outcome)

	got, err := f.store.GetMonthlyBenefit(ctx, 1, model.PeriodOf(testNow))
	require.NoError(t, err)
	assert.Equal(t, int64(3500), got.CouponDiscountAmount, "discount credited once")
}

func TestUseConcurrentRedeemCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	mc := f.grant(t, 1)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := f.redeemer.Use(ctx, mc.ID, 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := f.store.GetMonthlyBenefit(ctx, 1, model.PeriodOf(testNow))
	require.NoError(t, err)
	assert.Equal(t, int64(3500), got.CouponDiscountAmount)
}

func TestUseAfterUseWindowIsNotUsable(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	mc := f.grant(t, 1)

	late := WithClock(func() time.Time { return mc.UseEndedAt.Add(time.Hour) })
	locks := newExecutor()
	redeemer := NewCouponRedeemer(f.store, locks, NewBenefitAccumulator(f.store, locks, late), late)

	res, err := redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, UseNotUsable, res.Outcome)
}

func TestUseByAnotherMemberIsNotFound(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	mc := f.grant(t, 1)

	_, err := f.redeemer.Use(ctx, mc.ID, 2)
	assert.ErrorIs(t, err, ErrMemberCouponNotFound)

	_, err = f.redeemer.Use(ctx, 9999, 1)
	assert.ErrorIs(t, err, ErrMemberCouponNotFound)
}

func TestUseBusyWhenBenefitMonthIsLocked(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	mc := f.grant(t, 1)

	token, ok, err := f.provider.TryAcquire(ctx, BenefitLockKey(1, model.PeriodOf(testNow)))
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, UseBusy, res.Outcome)

	// the outer grant lock must have been released
	got, ok, err := f.provider.TryAcquire(ctx, MemberCouponLockKey(mc.ID))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.provider.Release(ctx, MemberCouponLockKey(mc.ID), got))
	require.NoError(t, f.provider.Release(ctx, BenefitLockKey(1, model.PeriodOf(testNow)), token))

	res, err = f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, UseUsed, res.Outcome)
}

func TestUseStampsBenefitWithRedeemerClock(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	locks := newExecutor()
	stale := WithClock(func() time.Time { return testNow.Add(-48 * time.Hour) })
	benefits := NewBenefitAccumulator(store, locks, stale)
	issuer := NewCouponIssuer(store, locks, WithClock(fixedClock()))
	redeemer := NewCouponRedeemer(store, locks, benefits, WithClock(fixedClock()))

	coupon := seedLimitedCoupon(t, store, 10)
	issued, err := issuer.Issue(ctx, coupon.ID, 1)
	require.NoError(t, err)

	res, err := redeemer.Use(ctx, issued.Grant.ID, 1)
	require.NoError(t, err)
	require.Equal(t, UseUsed, res.Outcome)
	assert.Equal(t, testNow, res.Benefit.CreatedAt)
	assert.Equal(t, testNow, res.Benefit.ModifiedAt)
	assert.Equal(t, model.PeriodOf(testNow), res.Benefit.Period())
}

func TestUseRecordsBenefitAccumulation(t *testing.T) {
	ctx := context.Background()
	f := newRedeemFixture(fixedClock())
	mc := f.grant(t, 1)
	okCounter := metrics.BenefitAccumulations.WithLabelValues(AccumulateOK.String())
	before := testutil.ToFloat64(okCounter)

	res, err := f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	require.Equal(t, UseUsed, res.Outcome)
	assert.Equal(t, before+1, testutil.ToFloat64(okCounter))

	res, err = f.redeemer.Use(ctx, mc.ID, 1)
	require.NoError(t, err)
	require.Equal(t, UseNotUsable, res.Outcome)
	assert.Equal(t, before+1, testutil.ToFloat64(okCounter), "refused use credits nothing")
}
